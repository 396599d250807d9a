// Package sandbox evaluates a job's transform script against an input
// table under a hard wall-clock deadline.
//
// Transforms are JavaScript run on a fresh goja runtime per evaluation. The
// input table is bound as `data` (an array of row objects); the script
// assigns its output to `result`. The runtime exposes only ECMAScript
// built-ins — there is no filesystem, network, or process access to deny.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/nextlevelbuilder/datapost/internal/table"
)

// ErrorKind classifies sandbox failures.
type ErrorKind int

const (
	// Timeout means the hard deadline expired and evaluation was aborted.
	Timeout ErrorKind = iota
	// Transform means the script itself threw.
	Transform
	// BadResult means the script completed but `result` is not a table.
	BadResult
)

// Error is a sandbox failure. Cause carries the script traceback for
// Transform errors so it can be included in failure notices.
type Error struct {
	Kind  ErrorKind
	Cause string
}

func (e *Error) Error() string {
	switch e.Kind {
	case Timeout:
		return "transform timed out: " + e.Cause
	case BadResult:
		return "transform produced an invalid result: " + e.Cause
	default:
		return "transform failed: " + e.Cause
	}
}

// interruptTimeout is the sentinel passed to vm.Interrupt on deadline expiry.
type interruptTimeout struct{}

// Sandbox evaluates transform scripts.
type Sandbox struct{}

// New returns a Sandbox.
func New() *Sandbox { return &Sandbox{} }

// Run evaluates script with input bound as `data` and returns the table
// assigned to `result`. A script that leaves `result` unset yields the
// (possibly mutated) `data` binding instead. The evaluation is aborted at
// the deadline via the runtime's interrupt mechanism, so a timed-out run
// does not keep consuming its worker.
func (s *Sandbox) Run(ctx context.Context, script string, input *table.Table, deadline time.Duration) (*table.Table, error) {
	if script == "" {
		return nil, &Error{Kind: Transform, Cause: "transform script is empty"}
	}

	vm := goja.New()
	bound, err := bindTable(vm, input)
	if err != nil {
		return nil, &Error{Kind: Transform, Cause: err.Error()}
	}
	if err := vm.Set("data", bound); err != nil {
		return nil, &Error{Kind: Transform, Cause: err.Error()}
	}

	timer := time.AfterFunc(deadline, func() { vm.Interrupt(interruptTimeout{}) })
	defer timer.Stop()

	// Propagate shutdown into the runtime.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchDone:
		}
	}()

	start := time.Now()
	_, err = vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{Kind: Timeout, Cause: fmt.Sprintf("deadline of %s exceeded", deadline)}
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, &Error{Kind: Transform, Cause: exc.String()}
		}
		return nil, &Error{Kind: Transform, Cause: err.Error()}
	}

	out := vm.Get("result")
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		slog.Debug("transform left result unset, using data binding")
		out = vm.Get("data")
	}

	result, err := exportTable(vm, out)
	if err != nil {
		return nil, err
	}
	slog.Debug("transform completed", "elapsed", time.Since(start), "rows", result.NumRows())
	return result, nil
}

// bindTable builds the `data` binding: one JS object per row, properties
// defined in column order so key enumeration preserves it. Cells are bound
// as own data properties, so reserved names like __proto__ stay plain
// cells instead of hitting the prototype setter.
func bindTable(vm *goja.Runtime, t *table.Table) (goja.Value, error) {
	rows := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		obj := vm.NewObject()
		for j, col := range t.Columns {
			err := obj.DefineDataProperty(col, vm.ToValue(row[j]), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
			if err != nil {
				return nil, fmt.Errorf("bind row %d column %q: %w", i, col, err)
			}
		}
		rows[i] = obj
	}
	return vm.NewArray(rows...), nil
}

// exportTable converts the script's result back into a Table. The value
// must be an array of objects; property enumeration order of the first row
// fixes the column order, later rows may add columns at the end.
func exportTable(vm *goja.Runtime, v goja.Value) (*table.Table, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, badResult(v)
	}
	if obj.ClassName() != "Array" {
		return nil, badResult(v)
	}

	length := int(obj.Get("length").ToInteger())
	t := &table.Table{}
	index := map[string]int{}
	rows := make([]map[string]any, 0, length)

	for i := 0; i < length; i++ {
		elem := obj.Get(strconv.Itoa(i))
		rowObj, ok := elem.(*goja.Object)
		if !ok || rowObj.ClassName() == "Array" {
			return nil, &Error{Kind: BadResult, Cause: fmt.Sprintf("result row %d is not an object", i)}
		}

		row := map[string]any{}
		for _, key := range rowObj.Keys() {
			if _, seen := index[key]; !seen {
				index[key] = len(t.Columns)
				t.Columns = append(t.Columns, key)
			}
			cell, err := exportCell(rowObj.Get(key))
			if err != nil {
				return nil, &Error{Kind: BadResult, Cause: fmt.Sprintf("row %d, column %q: %v", i, key, err)}
			}
			row[key] = cell
		}
		rows = append(rows, row)
	}

	for _, row := range rows {
		cells := make([]any, len(t.Columns))
		for j, col := range t.Columns {
			cells[j] = row[col]
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func exportCell(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch val := v.Export().(type) {
	case string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case time.Time: // JS Date
		return val.Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("unsupported cell type %T", val)
	}
}

func badResult(v goja.Value) *Error {
	desc := "undefined"
	if v != nil {
		desc = v.String()
		if len(desc) > 120 {
			desc = desc[:120] + "..."
		}
	}
	return &Error{Kind: BadResult, Cause: fmt.Sprintf("result must be an array of row objects, got %s", desc)}
}
