package main

import (
	"reflect"
	"testing"
)

func TestRewriteDirectSurveyArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no args",
			in:   []string{"surveyor"},
			want: []string{"surveyor"},
		},
		{
			name: "survey id first token",
			in:   []string{"surveyor", "12"},
			want: []string{"surveyor", "surveys", "show", "12"},
		},
		{
			name: "survey id after value flag",
			in:   []string{"surveyor", "--dir", "./tmp", "12"},
			want: []string{"surveyor", "--dir", "./tmp", "surveys", "show", "12"},
		},
		{
			name: "survey id after equals flag",
			in:   []string{"surveyor", "--format=edn", "12"},
			want: []string{"surveyor", "--format=edn", "surveys", "show", "12"},
		},
		{
			name: "survey id after bool flag",
			in:   []string{"surveyor", "--pretty", "12"},
			want: []string{"surveyor", "--pretty", "surveys", "show", "12"},
		},
		{
			name: "survey id after double dash",
			in:   []string{"surveyor", "--", "12"},
			want: []string{"surveyor", "--", "surveys", "show", "12"},
		},
		{
			name: "numeric value of a flag is not an id",
			in:   []string{"surveyor", "--server", "8080"},
			want: []string{"surveyor", "--server", "8080"},
		},
		{
			name: "subcommand with numeric argument not rewritten",
			in:   []string{"surveyor", "groups", "add", "12"},
			want: []string{"surveyor", "groups", "add", "12"},
		},
		{
			name: "zero is not a survey id",
			in:   []string{"surveyor", "0"},
			want: []string{"surveyor", "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rewriteDirectSurveyArgs(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("rewriteDirectSurveyArgs:\n got: %#v\nwant: %#v", got, tt.want)
			}
		})
	}
}
