package sandbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/table"
)

func inputTable() *table.Table {
	t := table.New("name", "score")
	t.AppendRow("alice", int64(10))
	t.AppendRow("bob", int64(7))
	t.AppendRow("carol", int64(15))
	return t
}

func TestRunPassthrough(t *testing.T) {
	out, err := New().Run(context.Background(), "result = data", inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"name", "score"}) {
		t.Errorf("columns = %v, want order preserved", out.Columns)
	}
	if out.NumRows() != 3 || out.Rows[0][0] != "alice" {
		t.Errorf("unexpected rows: %v", out.Rows)
	}
}

func TestRunFilterAndMap(t *testing.T) {
	script := `
		result = data
			.filter(function(r) { return r.score >= 10; })
			.map(function(r) { return { name: r.name, doubled: r.score * 2 }; });
	`
	out, err := New().Run(context.Background(), script, inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"name", "doubled"}) {
		t.Errorf("columns = %v", out.Columns)
	}
	if out.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", out.NumRows())
	}
	if out.Rows[0][1] != int64(20) || out.Rows[1][1] != int64(30) {
		t.Errorf("unexpected cells: %v", out.Rows)
	}
}

func TestRunMutatesDataWithoutResult(t *testing.T) {
	// No `result` assignment: the mutated `data` binding is the output.
	script := `data.forEach(function(r) { r.score = r.score + 1; });`
	out, err := New().Run(context.Background(), script, inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Rows[0][1] != int64(11) {
		t.Errorf("mutation lost: %v", out.Rows[0])
	}
}

func TestRunArithmeticOnCSVInput(t *testing.T) {
	// CSV input carries inferred numeric cells, so addition must add
	// instead of concatenating.
	in, err := table.FromCSV([]byte("score\n10\n"))
	if err != nil {
		t.Fatalf("FromCSV: %v", err)
	}
	out, err := New().Run(context.Background(),
		`data.forEach(function(r) { r.score = r.score + 1; });`, in, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Rows[0][0] != int64(11) {
		t.Errorf("cell = %v (%T), want int64 11", out.Rows[0][0], out.Rows[0][0])
	}
}

func TestRunReservedColumnNames(t *testing.T) {
	in := table.New("__proto__", "constructor")
	in.AppendRow(int64(1), "x")

	out, err := New().Run(context.Background(), "result = data", in, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"__proto__", "constructor"}) {
		t.Fatalf("columns = %v, want reserved names kept", out.Columns)
	}
	if out.Rows[0][0] != int64(1) || out.Rows[0][1] != "x" {
		t.Errorf("cells = %v, want [1 x]", out.Rows[0])
	}
}

func TestRunEmptyOutput(t *testing.T) {
	out, err := New().Run(context.Background(), "result = []", inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.NumRows() != 0 || len(out.Columns) != 0 {
		t.Errorf("expected empty table, got %v / %v", out.Columns, out.Rows)
	}
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := New().Run(context.Background(), "while (true) {}", inputTable(), 100*time.Millisecond)
	elapsed := time.Since(start)

	var se *Error
	if !errors.As(err, &se) || se.Kind != Timeout {
		t.Fatalf("err = %v, want Timeout", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("interrupt took %v, runaway script was not aborted promptly", elapsed)
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := New().Run(ctx, "while (true) {}", inputTable(), time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunScriptException(t *testing.T) {
	_, err := New().Run(context.Background(), `throw new Error("boom")`, inputTable(), time.Second)
	var se *Error
	if !errors.As(err, &se) || se.Kind != Transform {
		t.Fatalf("err = %v, want Transform", err)
	}
	if !strings.Contains(se.Cause, "boom") {
		t.Errorf("cause %q should carry the script message", se.Cause)
	}
}

func TestRunSyntaxError(t *testing.T) {
	_, err := New().Run(context.Background(), `result = {{{`, inputTable(), time.Second)
	var se *Error
	if !errors.As(err, &se) || se.Kind != Transform {
		t.Errorf("err = %v, want Transform", err)
	}
}

func TestRunBadResult(t *testing.T) {
	cases := []struct {
		name   string
		script string
	}{
		{"scalar", `result = 42`},
		{"string", `result = "csv,not,really"`},
		{"object", `result = {a: 1}`},
		{"array of scalars", `result = [1, 2, 3]`},
		{"array of arrays", `result = [[1], [2]]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New().Run(context.Background(), tc.script, inputTable(), time.Second)
			var se *Error
			if !errors.As(err, &se) || se.Kind != BadResult {
				t.Errorf("err = %v, want BadResult", err)
			}
		})
	}
}

func TestRunEmptyScript(t *testing.T) {
	_, err := New().Run(context.Background(), "", inputTable(), time.Second)
	var se *Error
	if !errors.As(err, &se) || se.Kind != Transform {
		t.Errorf("err = %v, want Transform", err)
	}
}

func TestRunColumnOrderFromFirstRow(t *testing.T) {
	script := `result = [{z: 1, a: 2}, {a: 3, z: 4, extra: 5}]`
	out, err := New().Run(context.Background(), script, inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"z", "a", "extra"}) {
		t.Errorf("columns = %v, want [z a extra]", out.Columns)
	}
	if out.Rows[0][2] != nil {
		t.Errorf("missing cell should be nil, got %v", out.Rows[0][2])
	}
}

func TestRunNullAndNumericCells(t *testing.T) {
	script := `result = [{a: null, b: 1.5, c: true}]`
	out, err := New().Run(context.Background(), script, inputTable(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	row := out.Rows[0]
	if row[0] != nil || row[1] != 1.5 || row[2] != true {
		t.Errorf("unexpected cells: %v", row)
	}
}
