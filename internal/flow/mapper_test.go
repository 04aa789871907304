package flow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spapperi/configurator/internal/models"
)

func TestApplyRootDimensions(t *testing.T) {
	u, gaps := Apply(FieldRootDimensions, map[string]any{"A": 3.0, "B": 3.0, "C": 4.0, "D": 5.0}, nil)
	want := &models.RootDimensions{A: ptr(3.0), B: ptr(3.0), C: ptr(4.0), D: ptr(5.0)}
	if diff := cmp.Diff(want, u.RootDimensions); diff != "" {
		t.Errorf("root dimensions mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, gaps)
}

func TestApplyPartialCompositeKeepsGaps(t *testing.T) {
	u, gaps := Apply(FieldRootDimensions, map[string]any{"a": "3 cm", "B": 3.0}, nil)
	require.NotNil(t, u.RootDimensions)
	assert.Equal(t, 3.0, *u.RootDimensions.A)
	assert.Nil(t, u.RootDimensions.C)
	assert.Equal(t, []string{"C", "D"}, gaps)

	u, gaps = Apply(FieldRootDimensions, map[string]any{}, nil)
	assert.Nil(t, u.RootDimensions)
	assert.Len(t, gaps, 4)
}

func TestApplyLayout(t *testing.T) {
	extracted := map[string]any{"number_of_rows": 4.0, "IF": "70", "IP": 30.0, "IB": 40.0}

	u, gaps := Apply(FieldLayoutDetails, extracted, &models.ConfigurationData{RowType: ptr("Singole")})
	require.NotNil(t, u.LayoutDetails)
	assert.Equal(t, 4, *u.LayoutDetails.NumberOfRows)
	assert.Equal(t, 70.0, *u.LayoutDetails.IF)
	assert.Nil(t, u.LayoutDetails.IB, "single rows never carry IB")
	assert.Empty(t, gaps)

	u, gaps = Apply(FieldLayoutDetails, map[string]any{"numero_bine": 2.0, "IF": 70.0, "IP": 30.0}, &models.ConfigurationData{RowType: ptr("Binate")})
	require.NotNil(t, u.LayoutDetails)
	assert.Equal(t, 2, *u.LayoutDetails.NumberOfRows)
	assert.Nil(t, u.LayoutDetails.IB)
	assert.Equal(t, []string{"IB"}, gaps)

	u, gaps = Apply(FieldLayoutDetails, map[string]any{"number_of_rows": 4.0, "IF": 70.0, "IP": 30.0, "IB": 40.0}, &models.ConfigurationData{RowType: ptr("File singole")})
	require.NotNil(t, u.LayoutDetails)
	assert.Nil(t, u.LayoutDetails.IB, "free-text single rows never carry IB")
	assert.Empty(t, gaps)
}

func TestApplyRowTypeReadsAlternateKeys(t *testing.T) {
	tests := []map[string]any{
		{"row_type": "Binate"},
		{"sesto_impianto": "Binate"},
		{"type": "Binate"},
		{"Row_Type": "Binate"},
		{"raw": "Binate"},
		{"row_type": "", "raw": "Binate"},
	}
	for _, extracted := range tests {
		u, gaps := Apply(FieldRowType, extracted, nil)
		if u.RowType == nil || *u.RowType != "Binate" {
			t.Errorf("Apply(row_type, %v) = %v, want Binate", extracted, u.RowType)
		}
		assert.Empty(t, gaps)
	}
}

func TestApplyRowTypeCanonicalizesFreeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"File singole", RowTypeSingle},
		{"Si tratta di file singole", RowTypeSingle},
		{"singolo", RowTypeSingle},
		{"bine", RowTypeTwin},
		{"file binate", RowTypeTwin},
	}
	for _, tt := range tests {
		u, _ := Apply(FieldRowType, map[string]any{"row_type": tt.in}, nil)
		if u.RowType == nil || *u.RowType != tt.want {
			t.Errorf("Apply(row_type, %q) = %v, want %s", tt.in, u.RowType, tt.want)
		}
	}
}

func TestApplyGatedRecords(t *testing.T) {
	u, gaps := Apply(FieldRaisedBed, map[string]any{"is_raised_bed": true, "AT": 20.0, "LT": 100.0, "IT": 150.0, "ST": 50.0}, nil)
	require.NotNil(t, u.IsRaisedBed)
	assert.True(t, *u.IsRaisedBed)
	require.NotNil(t, u.RaisedBedDetails)
	assert.Equal(t, 150.0, *u.RaisedBedDetails.IT)
	assert.Empty(t, gaps)

	u, _ = Apply(FieldRaisedBed, map[string]any{"is_raised_bed": false, "AT": 20.0}, nil)
	assert.False(t, *u.IsRaisedBed)
	assert.Nil(t, u.RaisedBedDetails, "details must not exist without the gate")

	u, gaps = Apply(FieldRaisedBed, map[string]any{"raw": "Sì, alta 20"}, nil)
	assert.True(t, *u.IsRaisedBed)
	require.NotNil(t, u.RaisedBedDetails)
	assert.ElementsMatch(t, []string{"AT", "LT", "IT", "ST"}, gaps)

	u, gaps = Apply(FieldMulch, map[string]any{}, nil)
	require.NotNil(t, u.IsMulch)
	assert.False(t, *u.IsMulch)
	assert.Nil(t, u.MulchDetails)
	assert.Equal(t, []string{"is_mulch"}, gaps)

	u, _ = Apply(FieldMulch, map[string]any{"pacciamatura": "sì", "LP": "120 cm"}, nil)
	assert.True(t, *u.IsMulch)
	assert.Equal(t, 120.0, *u.MulchDetails.LP)
}

func TestApplyNumbers(t *testing.T) {
	u, _ := Apply(FieldWheelDistance, map[string]any{"raw": "circa 150,5 cm"}, nil)
	require.NotNil(t, u.WheelDistance)
	assert.Equal(t, 150.5, *u.WheelDistance)

	u, _ = Apply(FieldTractorHP, map[string]any{"tractor_hp": "90 CV"}, nil)
	require.NotNil(t, u.TractorHP)
	assert.Equal(t, 90, *u.TractorHP)

	u, _ = Apply(FieldTractorHP, map[string]any{"raw": "circa 1.500 CV"}, nil)
	require.NotNil(t, u.TractorHP)
	assert.Equal(t, 1500, *u.TractorHP)

	numbers := map[string]float64{
		"1.500":     1500,
		"1.500,5":   1500.5,
		"2.000.000": 2000000,
		"3,5":       3.5,
		"1.5":       1.5,
		"1.5000":    1.5,
		"150.25 cm": 150.25,
		"-1.500":    -1500,
	}
	for raw, want := range numbers {
		u, _ = Apply(FieldWheelDistance, map[string]any{"raw": raw}, nil)
		if u.WheelDistance == nil || *u.WheelDistance != want {
			t.Errorf("Apply(wheel_distance, %q) = %v, want %v", raw, u.WheelDistance, want)
		}
	}

	u, gaps := Apply(FieldTractorHP, map[string]any{"raw": "non lo so"}, nil)
	assert.Nil(t, u.TractorHP)
	assert.Equal(t, []string{"tractor_hp"}, gaps)
}

func TestApplyChoicesAreCanonicalized(t *testing.T) {
	u, _ := Apply(FieldSoilType, map[string]any{"soil_type": "sabbioso"}, nil)
	assert.Equal(t, "Sabbioso / Leggero", *u.SoilType)

	u, _ = Apply(FieldRootType, map[string]any{"root_type": "zolla cubica"}, nil)
	assert.Equal(t, "Zolla Cubica", *u.RootType)

	u, _ = Apply(FieldRootType, map[string]any{"root_type": "Torba"}, nil)
	assert.Equal(t, "Torba", *u.RootType)
}

func TestApplyAccessories(t *testing.T) {
	tests := []struct {
		name      string
		extracted map[string]any
		want      []string
		gaps      int
	}{
		{"empty list", map[string]any{"accessories": []any{}}, []string{}, 0},
		{"missing", map[string]any{}, []string{}, 1},
		{"list", map[string]any{"accessories": []any{"spandiconcime", "Ripiani supplementari"}}, []string{"Spandiconcime", "Ripiani supplementari"}, 0},
		{"string", map[string]any{"selected": "Spandiconcime, Spandiconcime ; Ripiani Porta Alveoli"}, []string{"Spandiconcime", "Ripiani Porta Alveoli"}, 0},
		{"none wins", map[string]any{"accessories": []any{"Spandiconcime", "nessuno"}}, []string{NoneOption}, 0},
		{"unknown kept", map[string]any{"accessories": []any{" Telaio rinforzato "}}, []string{"Telaio rinforzato"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, gaps := Apply(FieldAccessoriesPrimary, tt.extracted, nil)
			require.NotNil(t, u.AccessoriesPrimary)
			require.NotNil(t, *u.AccessoriesPrimary)
			assert.Equal(t, tt.want, *u.AccessoriesPrimary)
			assert.Len(t, gaps, tt.gaps)
			assert.Nil(t, u.AccessoriesSecondary)
		})
	}
}

func TestApplyInterest(t *testing.T) {
	u, gaps := Apply(FieldInterested, map[string]any{"interested_in_commercial_info_or_quote": "No grazie"}, nil)
	require.NotNil(t, u.IsInterested)
	assert.False(t, *u.IsInterested)
	assert.Empty(t, gaps)

	u, _ = Apply(FieldInterested, map[string]any{"is_interested": true}, nil)
	assert.True(t, *u.IsInterested)

	u, gaps = Apply(FieldInterested, nil, nil)
	assert.False(t, *u.IsInterested)
	assert.Equal(t, []string{"is_interested"}, gaps)
}

func TestInterestAgreesWithTransition(t *testing.T) {
	answers := []any{"Sì", "No grazie", "si certo", "non adesso", true, false, []any{"Sì"}, "boh"}
	for _, answer := range answers {
		extracted := map[string]any{"interested_in_commercial_info_or_quote": answer}
		u, _ := Apply(FieldInterested, extracted, nil)
		next, err := ResolveNextPhase("phase_6_2", extracted, nil)
		require.NoError(t, err)
		if *u.IsInterested != (next == "phase_6_3") {
			t.Errorf("answer %v: saved interest %v but next phase %s", answer, *u.IsInterested, next)
		}
	}
}

func TestApplyContactInfo(t *testing.T) {
	u, gaps := Apply(FieldContactInfo, map[string]any{"Email": " Mario@Example.IT ", "partita_iva": "IT 0123 4567 890"}, nil)
	assert.Equal(t, "mario@example.it", *u.ContactEmail)
	assert.Equal(t, "IT01234567890", *u.VATNumber)
	assert.Empty(t, gaps)

	u, gaps = Apply(FieldContactInfo, map[string]any{"email": "a@b.it"}, nil)
	assert.NotNil(t, u.ContactEmail)
	assert.Nil(t, u.VATNumber)
	assert.Equal(t, []string{"vat_number"}, gaps)
}

func TestApplyTextFields(t *testing.T) {
	u, _ := Apply(FieldCropType, map[string]any{"coltura": "Pomodoro"}, nil)
	assert.Equal(t, "Pomodoro", *u.CropType)

	u, _ = Apply(FieldUserNotes, map[string]any{"notes": "Consegna a marzo"}, nil)
	assert.Equal(t, "Consegna a marzo", *u.UserNotes)

	u, gaps := Apply(FieldEnvironment, map[string]any{"environment": nil}, nil)
	assert.Nil(t, u.Environment)
	assert.Equal(t, []string{"environment"}, gaps)
}

func TestApplyNeverPanicsOnOddValues(t *testing.T) {
	odd := map[string]any{
		"A": map[string]any{"x": 1}, "IF": []any{}, "accessories": 42.0,
		"is_raised_bed": map[string]any{}, "tractor_hp": true, "raw": nil,
	}
	for _, p := range Phases() {
		assert.NotPanics(t, func() { Apply(p.Field, odd, nil) }, "field %s", p.Field)
	}
}
