package table

import (
	"reflect"
	"strings"
	"testing"
)

func TestFromJSON_ArrayOfObjects(t *testing.T) {
	tbl, err := FromJSON([]byte(`[{"a":1,"b":2},{"a":3,"b":4}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"a", "b"}) {
		t.Errorf("columns = %v, want [a b]", tbl.Columns)
	}
	if tbl.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", tbl.NumRows())
	}
	if tbl.Rows[0][0] != int64(1) || tbl.Rows[1][1] != int64(4) {
		t.Errorf("unexpected cells: %v", tbl.Rows)
	}
}

func TestFromJSON_ColumnOrderFirstSeen(t *testing.T) {
	tbl, err := FromJSON([]byte(`[{"z":1,"a":2},{"a":3,"z":4,"m":5}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"z", "a", "m"}) {
		t.Errorf("columns = %v, want [z a m]", tbl.Columns)
	}
	// Row 0 has no "m": the cell is nil.
	if tbl.Rows[0][2] != nil {
		t.Errorf("missing key should be nil, got %v", tbl.Rows[0][2])
	}
}

func TestFromJSON_SingleObject(t *testing.T) {
	tbl, err := FromJSON([]byte(`{"name":"x","count":7,"ok":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.NumRows() != 1 {
		t.Fatalf("rows = %d, want 1", tbl.NumRows())
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"name", "count", "ok"}) {
		t.Errorf("columns = %v", tbl.Columns)
	}
	if tbl.Rows[0][1] != int64(7) || tbl.Rows[0][2] != true {
		t.Errorf("unexpected cells: %v", tbl.Rows[0])
	}
}

func TestFromJSON_ObjectOfArrays(t *testing.T) {
	tbl, err := FromJSON([]byte(`{"a":[1,2,3],"label":"x","b":[4.5,5.5,6.5]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", tbl.NumRows())
	}
	// Scalar broadcasts to every row.
	for i := 0; i < 3; i++ {
		if tbl.Rows[i][1] != "x" {
			t.Errorf("row %d label = %v, want x", i, tbl.Rows[i][1])
		}
	}
	if tbl.Rows[2][2] != 6.5 {
		t.Errorf("float cell = %v, want 6.5", tbl.Rows[2][2])
	}
}

func TestFromJSON_ObjectOfArraysLengthMismatch(t *testing.T) {
	_, err := FromJSON([]byte(`{"a":[1,2],"b":[3]}`))
	if err == nil {
		t.Fatal("expected error for mismatched array lengths")
	}
}

func TestFromJSON_Scalars(t *testing.T) {
	for _, bad := range []string{`42`, `"hi"`, `true`, `null`} {
		if _, err := FromJSON([]byte(bad)); err == nil {
			t.Errorf("FromJSON(%s) should fail", bad)
		}
	}
}

func TestFromJSON_ArrayOfNonObjects(t *testing.T) {
	if _, err := FromJSON([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for array of scalars")
	}
}

func TestFromJSON_IntVsFloat(t *testing.T) {
	tbl, err := FromJSON([]byte(`[{"i":10,"f":10.0,"e":1e2}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tbl.Rows[0][0].(int64); !ok {
		t.Errorf("10 should decode as int64, got %T", tbl.Rows[0][0])
	}
	if _, ok := tbl.Rows[0][1].(float64); !ok {
		t.Errorf("10.0 should decode as float64, got %T", tbl.Rows[0][1])
	}
	if _, ok := tbl.Rows[0][2].(float64); !ok {
		t.Errorf("1e2 should decode as float64, got %T", tbl.Rows[0][2])
	}
}

func TestToCSV(t *testing.T) {
	tbl := New("a", "b")
	tbl.AppendRow(int64(1), "x")
	tbl.AppendRow(2.5, true)

	out, err := tbl.ToCSV()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a,b\n1,x\n2.5,true\n"
	if string(out) != want {
		t.Errorf("CSV = %q, want %q", out, want)
	}
}

func TestToCSV_Quoting(t *testing.T) {
	tbl := New("text")
	tbl.AppendRow("has,comma")
	tbl.AppendRow("has \"quote\"")
	tbl.AppendRow("has\nnewline")

	out, err := tbl.ToCSV()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"has,comma"`) {
		t.Errorf("comma field not quoted: %q", s)
	}
	if !strings.Contains(s, `"has ""quote"""`) {
		t.Errorf("quote not doubled: %q", s)
	}
	if !strings.Contains(s, "\"has\nnewline\"") {
		t.Errorf("newline field not quoted: %q", s)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := New("s", "i", "f", "b")
	tbl.AppendRow("hello", int64(42), 3.25, true)
	tbl.AppendRow("with,comma", int64(-1), 0.5, false)

	csv1, err := tbl.ToCSV()
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}
	back, err := FromCSV(csv1)
	if err != nil {
		t.Fatalf("FromCSV: %v", err)
	}
	if !reflect.DeepEqual(back.Columns, tbl.Columns) {
		t.Errorf("columns = %v, want %v", back.Columns, tbl.Columns)
	}
	// Cell types must survive the round trip, not just their rendering.
	if !reflect.DeepEqual(back.Rows, tbl.Rows) {
		t.Errorf("rows = %#v, want %#v", back.Rows, tbl.Rows)
	}
	// A second serialization must be identical.
	csv2, err := back.ToCSV()
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}
	if string(csv1) != string(csv2) {
		t.Errorf("round trip not stable:\n%q\n%q", csv1, csv2)
	}
}

func TestFromCSV_TypeInference(t *testing.T) {
	tbl, err := FromCSV([]byte("name,count,ratio,active,gap\nalice,10,2.5,true,\nbob,-3,1e3,false,x1\n"))
	if err != nil {
		t.Fatalf("FromCSV: %v", err)
	}
	want := [][]any{
		{"alice", int64(10), 2.5, true, nil},
		{"bob", int64(-3), 1000.0, false, "x1"},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("rows = %#v, want %#v", tbl.Rows, want)
	}
}

func TestFromCSV_NumericCellIsTyped(t *testing.T) {
	tbl, err := FromCSV([]byte("score\n10\n"))
	if err != nil {
		t.Fatalf("FromCSV: %v", err)
	}
	if cell, ok := tbl.Rows[0][0].(int64); !ok || cell != 10 {
		t.Errorf("cell = %v (%T), want int64 10", tbl.Rows[0][0], tbl.Rows[0][0])
	}
}

func TestFromCSV_Empty(t *testing.T) {
	if _, err := FromCSV(nil); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestAppendRow_WrongArity(t *testing.T) {
	tbl := New("a", "b")
	if err := tbl.AppendRow("only-one"); err == nil {
		t.Fatal("expected arity error")
	}
}
