package remote

import (
	"encoding/json"
	"testing"
)

func TestLooseStringDecoding(t *testing.T) {
	cases := []struct {
		in   string
		want LooseString
	}{
		{`"main"`, "main"},
		{`42`, "42"},
		{`-3`, "-3"},
		{`1.5`, "1.5"},
		{`null`, ""},
		{`true`, ""},
		{`{"a":1}`, ""},
	}
	for _, tc := range cases {
		var got LooseString
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestLooseBoolTruthiness(t *testing.T) {
	cases := []struct {
		in   string
		want LooseBool
	}{
		{`true`, true},
		{`false`, false},
		{`1`, true},
		{`0`, false},
		{`0.0`, false},
		{`"yes"`, true},
		{`""`, false},
		{`null`, false},
		{`{}`, true},
		{`[]`, true},
	}
	for _, tc := range cases {
		var got LooseBool
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestCronJobNumericFields(t *testing.T) {
	var job CronJob
	if err := json.Unmarshal([]byte(`{"id":42,"enabled":1}`), &job); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if job.Identity() != "42" || !job.Enabled {
		t.Fatalf("unexpected job %+v", job)
	}
}
