package pathspace

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
	"github.com/stretchr/testify/assert"
)

// The exerciser drives a Space against a map-of-queues model: lanes under
// /q each hold a FIFO of ints, and every command's observable result is
// checked against the model after each step.

var laneNames = [...]string{"a", "b", "c", "d", "e"}

const (
	nLanes   = uint(len(laneNames))
	xValMax  = 99_999
	xLaneDir = "/q"
)

type xexpected struct {
	lanes map[string][]int

	// set by the mutating commands so PostCondition can see what the
	// model popped
	took   int
	tookOK bool
}

type xsystem struct {
	s        *Space
	cmdCount int
}

var (
	xCmdCount = 0
	xDebug    = false
)

func xprogress(i interface{}) {
	if xDebug {
		fmt.Printf("%v\n", i)
	}
}

func lanePath(n uint) string {
	return xLaneDir + "/" + laneNames[n%nLanes]
}

func laneKey(n uint) string {
	return laneNames[n%nLanes]
}

func emptyErr(result commands.Result) bool {
	err, ok := result.(error)
	if !ok {
		return false
	}
	return errors.Is(err, ErrNoObjectFound) || errors.Is(err, ErrNoSuchPath)
}

type xinsertCommand uint

func (v xinsertCommand) Run(s commands.SystemUnderTest) commands.Result {
	_, err := s.(*xsystem).s.Insert(lanePath(uint(v)), int(v))
	if err != nil {
		return err
	}
	s.(*xsystem).cmdCount++
	return nil
}

func (v xinsertCommand) NextState(state commands.State) commands.State {
	st := state.(*xexpected)
	st.lanes[laneKey(uint(v))] = append(st.lanes[laneKey(uint(v))], int(v))
	return st
}

func (v xinsertCommand) PreCondition(state commands.State) bool {
	return true
}

func (v xinsertCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	if result != nil {
		fmt.Printf("insertPostCondition: %v\n", result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	xprogress(v)
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (v xinsertCommand) String() string {
	return fmt.Sprintf("Insert(%s,%d)", lanePath(uint(v)), int(v))
}

var genXInsert = xuintCommandGen(
	func(value uint) commands.Command { return xinsertCommand(value) },
	func(command interface{}) uint { return uint(command.(xinsertCommand)) })

type xreadCommand uint

func (v xreadCommand) Run(s commands.SystemUnderTest) commands.Result {
	var got int
	err := s.(*xsystem).s.Read(ctx, lanePath(uint(v)), &got)
	if err != nil {
		return err
	}
	s.(*xsystem).cmdCount++
	return got
}

func (v xreadCommand) NextState(state commands.State) commands.State {
	return state
}

func (v xreadCommand) PreCondition(state commands.State) bool {
	return true
}

func (v xreadCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	q := state.(*xexpected).lanes[laneKey(uint(v))]
	if len(q) == 0 {
		if emptyErr(result) {
			xprogress(v)
			return &gopter.PropResult{Status: gopter.PropTrue}
		}
		fmt.Printf("readPostCondition: expected empty-lane error, got %v\n", result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	if result != q[0] {
		fmt.Printf("readPostCondition: expected head %d, got %v\n", q[0], result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	xprogress(v)
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (v xreadCommand) String() string {
	return fmt.Sprintf("Read(%s)", lanePath(uint(v)))
}

var genXRead = xuintCommandGen(
	func(value uint) commands.Command { return xreadCommand(value) },
	func(command interface{}) uint { return uint(command.(xreadCommand)) })

type xtakeCommand uint

func (v xtakeCommand) Run(s commands.SystemUnderTest) commands.Result {
	var got int
	err := s.(*xsystem).s.Take(ctx, lanePath(uint(v)), &got)
	if err != nil {
		return err
	}
	s.(*xsystem).cmdCount++
	return got
}

func (v xtakeCommand) NextState(state commands.State) commands.State {
	st := state.(*xexpected)
	q := st.lanes[laneKey(uint(v))]
	if len(q) == 0 {
		st.tookOK = false
		return st
	}
	st.took, st.tookOK = q[0], true
	st.lanes[laneKey(uint(v))] = q[1:]
	return st
}

func (v xtakeCommand) PreCondition(state commands.State) bool {
	return true
}

func (v xtakeCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	st := state.(*xexpected)
	if !st.tookOK {
		if emptyErr(result) {
			xprogress(v)
			return &gopter.PropResult{Status: gopter.PropTrue}
		}
		fmt.Printf("takePostCondition: expected empty-lane error, got %v\n", result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	if result != st.took {
		fmt.Printf("takePostCondition: expected %d, got %v\n", st.took, result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	xprogress(v)
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (v xtakeCommand) String() string {
	return fmt.Sprintf("Take(%s)", lanePath(uint(v)))
}

var genXTake = xuintCommandGen(
	func(value uint) commands.Command { return xtakeCommand(value) },
	func(command interface{}) uint { return uint(command.(xtakeCommand)) })

// TakeAny pops from the first populated lane in sorted order, the same
// order a final-component glob visits children.
var TakeAnyCommand = &commands.ProtoCommand{
	Name: "TakeAny",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		var got int
		err := s.(*xsystem).s.Take(ctx, xLaneDir+"/*", &got)
		if err != nil {
			return err
		}
		s.(*xsystem).cmdCount++
		return got
	},
	NextStateFunc: func(state commands.State) commands.State {
		st := state.(*xexpected)
		st.tookOK = false
		var keys []string
		for k := range st.lanes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if q := st.lanes[k]; len(q) > 0 {
				st.took, st.tookOK = q[0], true
				st.lanes[k] = q[1:]
				break
			}
		}
		return st
	},
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		st := state.(*xexpected)
		if !st.tookOK {
			if emptyErr(result) {
				xprogress("TakeAny")
				return &gopter.PropResult{Status: gopter.PropTrue}
			}
			fmt.Printf("takeAnyPostCondition: expected empty error, got %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		if result != st.took {
			fmt.Printf("takeAnyPostCondition: expected %d, got %v\n", st.took, result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		xprogress("TakeAny")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

var ListCommand = &commands.ProtoCommand{
	Name: "List",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		names, err := s.(*xsystem).s.ListChildren(xLaneDir)
		if err != nil {
			return err
		}
		s.(*xsystem).cmdCount++
		return names
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		st := state.(*xexpected)
		if len(st.lanes) == 0 {
			if emptyErr(result) {
				xprogress("List")
				return &gopter.PropResult{Status: gopter.PropTrue}
			}
			fmt.Printf("listPostCondition: expected missing-dir error, got %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		var keys []string
		for k := range st.lanes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		actual, ok := result.([]string)
		if !ok {
			fmt.Printf("listPostCondition: %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		if len(actual) != len(keys) {
			fmt.Printf("listPostCondition: expected %v, got %v\n", keys, actual)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		for i := range keys {
			if actual[i] != keys[i] {
				fmt.Printf("listPostCondition: expected %v, got %v\n", keys, actual)
				return &gopter.PropResult{Status: gopter.PropFalse}
			}
		}
		xprogress("List")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

var ClearCommand = &commands.ProtoCommand{
	Name: "Clear",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		s.(*xsystem).s.Clear()
		s.(*xsystem).cmdCount++
		return nil
	},
	NextStateFunc: func(state commands.State) commands.State {
		st := state.(*xexpected)
		st.lanes = map[string][]int{}
		return st
	},
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		if result != nil {
			fmt.Printf("clearPostCondition: %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		xprogress("Clear")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

func xuintCommandGen(toCommand func(uint) commands.Command, fromCommand func(interface{}) uint) gopter.Gen {
	return gen.UIntRange(0, xValMax).Map(func(value uint) commands.Command {
		return toCommand(value)
	}).WithShrinker(func(v interface{}) gopter.Shrink {
		return gen.UIntShrinker(fromCommand(v)).Map(func(value uint) commands.Command {
			return toCommand(value)
		})
	})
}

var spaceCommands = &commands.ProtoCommands{
	NewSystemUnderTestFunc: func(initialState commands.State) commands.SystemUnderTest {
		s := New(Config{CacheSize: 16})
		st := initialState.(*xexpected)
		var keys []string
		for k := range st.lanes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range st.lanes[k] {
				if _, err := s.Insert(xLaneDir+"/"+k, v); err != nil {
					return err
				}
			}
		}
		xprogress("NewSystem")
		return &xsystem{s, 0}
	},
	DestroySystemUnderTestFunc: func(s commands.SystemUnderTest) {
		if sys, ok := s.(*xsystem); ok {
			xCmdCount += sys.cmdCount
			sys.s.Close()
		}
	},
	InitialStateGen: gen.MapOf(gen.UIntRange(0, nLanes-1), gen.SliceOf(gen.IntRange(0, xValMax))).Map(func(m map[uint][]int) *xexpected {
		lanes := map[string][]int{}
		for lane, vals := range m {
			if len(vals) == 0 {
				continue
			}
			lanes[laneNames[lane]] = vals
		}
		return &xexpected{lanes: lanes}
	}),
	InitialPreConditionFunc: func(state commands.State) bool {
		_ = state.(*xexpected)
		return true
	},
	GenCommandFunc: func(state commands.State) gopter.Gen {
		return gen.Weighted(
			[]gen.WeightedGen{
				{Weight: 100, Gen: genXInsert},
				{Weight: 100, Gen: genXRead},
				{Weight: 100, Gen: genXTake},
				{Weight: 20, Gen: gen.Const(TakeAnyCommand)},
				{Weight: 20, Gen: gen.Const(ListCommand)},
				{Weight: 2, Gen: gen.Const(ClearCommand)},
			},
		)
	},
}

func TestExerciser(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	if !testing.Short() {
		parameters.MaxSize = 1024
	}
	properties := gopter.NewProperties(parameters)
	properties.Property("space exerciser", commands.Prop(spaceCommands))
	properties.TestingRun(t)
	if !t.Failed() {
		assert.Greater(t, xCmdCount, 0)
		fmt.Printf("successful commands: %d\n", xCmdCount)
	}
}
