package core

import (
	"reflect"
	"testing"
)

func TestSuggestMapping(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    ColumnMapping
	}{
		{
			name:    "common export headers",
			headers: []string{"First Name", "Last Name", "Student ID", "Grade", "Parent Email", "Phone", "Favorite Color"},
			want: ColumnMapping{
				FieldFirstName:         "First Name",
				FieldLastName:          "Last Name",
				FieldStudentExternalID: "Student ID",
				FieldGradeLevel:        "Grade",
				FieldParentEmail:       "Parent Email",
				FieldParentPhone:       "Phone",
			},
		},
		{
			name:    "reversed name headers",
			headers: []string{"Name First", "Name Last", "Grade"},
			want: ColumnMapping{
				FieldFirstName:  "Name First",
				FieldLastName:   "Name Last",
				FieldGradeLevel: "Grade",
			},
		},
		{
			name:    "punctuation and case ignored",
			headers: []string{"first_name", "LAST-NAME", "learning goals", "IEP"},
			want: ColumnMapping{
				FieldFirstName:             "first_name",
				FieldLastName:              "LAST-NAME",
				FieldLearningGoals:         "learning goals",
				FieldSpecialConsiderations: "IEP",
			},
		},
		{
			name:    "more specific alias preferred",
			headers: []string{"Email", "Guardian Email", "Given Name", "Surname"},
			want: ColumnMapping{
				FieldFirstName:   "Given Name",
				FieldLastName:    "Surname",
				FieldParentEmail: "Guardian Email",
			},
		},
		{
			name:    "nothing recognizable",
			headers: []string{"Color", "Animal"},
			want:    ColumnMapping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestMapping(tt.headers); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SuggestMapping() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestMapping_PassesCheck(t *testing.T) {
	headers := []string{"First Name", "Last Name", "Guardian", "Guardian Phone"}
	if err := SuggestMapping(headers).Check(headers); err != nil {
		t.Errorf("suggested mapping failed Check: %v", err)
	}
}

func TestMappingCoverage(t *testing.T) {
	headers := []string{"First Name", "Last Name", "Grade", "Favorite Color"}

	tests := []struct {
		name    string
		headers []string
		mapping ColumnMapping
		want    float64
	}{
		{"no headers", nil, ColumnMapping{FieldFirstName: "x"}, 0},
		{"empty mapping", headers, ColumnMapping{}, 0},
		{"three of four", headers, SuggestMapping(headers), 0.75},
		{
			name:    "full coverage",
			headers: headers[:2],
			mapping: ColumnMapping{FieldFirstName: "First Name", FieldLastName: "Last Name"},
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MappingCoverage(tt.headers, tt.mapping); got != tt.want {
				t.Errorf("MappingCoverage() = %v, want %v", got, tt.want)
			}
		})
	}
}
