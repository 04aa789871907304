package flow

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spapperi/configurator/internal/models"
)

// rawKey is the catch-all key under which the oracle may return the answer text.
const rawKey = "raw"

// Keys tried in order for each value. The oracle is not consistent in how it
// names extracted values.
var (
	cropKeys        = []string{"crop_type", "crop", "coltura", rawKey}
	rootTypeKeys    = []string{"root_type", "radice", "tipo_radice", rawKey}
	rowTypeKeys     = []string{"row_type", "sesto_impianto", "type", rawKey}
	rowCountKeys    = []string{"number_of_rows", "rows", "numero_file", "numero_bine", "bine", "file"}
	environmentKeys = []string{"environment", "ambiente", rawKey}
	raisedBedKeys   = []string{"is_raised_bed", "raised_bed", "baula", "answer", rawKey}
	mulchKeys       = []string{"is_mulch", "mulch", "pacciamatura", "answer", rawKey}
	soilKeys        = []string{"soil_type", "terreno", "tipo_terreno", rawKey}
	wheelKeys       = []string{"wheel_distance", "wheel_distance_internal", "distanza_ruote", rawKey}
	hpKeys          = []string{"tractor_hp", "hp", "cavalli", rawKey}
	notesKeys       = []string{"notes", "user_notes", "note", rawKey}
	interestKeys    = []string{"interested_in_commercial_info_or_quote", "is_interested", "interested", "answer", rawKey}
	emailKeys       = []string{"email", "contact_email", "mail"}
	vatKeys         = []string{"vat_number", "partita_iva", "piva", "vat"}
)

func accessoryKeys(field Field) []string {
	return []string{"accessories", "selected", "accessori", string(field), rawKey}
}

// KeyHints returns the preferred extraction keys for field, used to steer the
// oracle toward names the mapper reads first.
func KeyHints(field Field) []string {
	switch field {
	case FieldCropType:
		return cropKeys[:1]
	case FieldRootType:
		return rootTypeKeys[:1]
	case FieldRootDimensions:
		return []string{"A", "B", "C", "D"}
	case FieldRowType:
		return rowTypeKeys[:1]
	case FieldLayoutDetails:
		return []string{"number_of_rows", "IF", "IP", "IB"}
	case FieldEnvironment:
		return environmentKeys[:1]
	case FieldRaisedBed:
		return []string{"is_raised_bed", "AT", "LT", "IT", "ST"}
	case FieldMulch:
		return []string{"is_mulch", "LP"}
	case FieldSoilType:
		return soilKeys[:1]
	case FieldWheelDistance:
		return wheelKeys[:1]
	case FieldTractorHP:
		return hpKeys[:1]
	case FieldAccessoriesPrimary, FieldAccessoriesSecondary, FieldAccessoriesElement:
		return []string{"accessories"}
	case FieldUserNotes:
		return notesKeys[:1]
	case FieldInterested:
		return interestKeys[:1]
	case FieldContactInfo:
		return []string{"email", "vat_number"}
	}
	return nil
}

// Apply maps an oracle extraction onto the configuration field owned by a
// phase. It never fails: values that are missing or cannot be parsed are left
// unset and reported as gaps.
func Apply(field Field, extracted map[string]any, existing *models.ConfigurationData) (models.ConfigurationUpdate, []string) {
	m := &mapping{extracted: extracted}
	var u models.ConfigurationUpdate

	switch field {
	case FieldCropType:
		u.CropType = m.text("crop_type", cropKeys)
	case FieldRootType:
		u.RootType = m.choice("root_type", rootTypeKeys, optionsFor(FieldRootType))
	case FieldRootDimensions:
		dims := models.RootDimensions{
			A: m.number("A", "A"),
			B: m.number("B", "B"),
			C: m.number("C", "C"),
			D: m.number("D", "D"),
		}
		if dims != (models.RootDimensions{}) {
			u.RootDimensions = &dims
		}
	case FieldRowType:
		if rowType := m.choice("row_type", rowTypeKeys, optionsFor(FieldRowType)); rowType != nil {
			label := canonicalRowType(*rowType)
			u.RowType = &label
		}
	case FieldLayoutDetails:
		layout := models.LayoutDetails{
			NumberOfRows: m.integer("number_of_rows", rowCountKeys...),
			IF:           m.number("IF", "IF", "interfila"),
			IP:           m.number("IP", "IP", "interpianta"),
		}
		if !IsSingleRow(derefData(existing).RowType) {
			layout.IB = m.number("IB", "IB", "interbina")
		}
		if layout != (models.LayoutDetails{}) {
			u.LayoutDetails = &layout
		}
	case FieldEnvironment:
		u.Environment = m.text("environment", environmentKeys)
	case FieldRaisedBed:
		gate := m.gate("is_raised_bed", raisedBedKeys)
		u.IsRaisedBed = &gate
		if gate {
			u.RaisedBedDetails = &models.RaisedBedDetails{
				AT: m.number("AT", "AT"),
				LT: m.number("LT", "LT"),
				IT: m.number("IT", "IT"),
				ST: m.number("ST", "ST"),
			}
		}
	case FieldMulch:
		gate := m.gate("is_mulch", mulchKeys)
		u.IsMulch = &gate
		if gate {
			u.MulchDetails = &models.MulchDetails{LP: m.number("LP", "LP")}
		}
	case FieldSoilType:
		u.SoilType = m.choice("soil_type", soilKeys, optionsFor(FieldSoilType))
	case FieldWheelDistance:
		u.WheelDistance = m.number("wheel_distance", wheelKeys...)
	case FieldTractorHP:
		u.TractorHP = m.integer("tractor_hp", hpKeys...)
	case FieldAccessoriesPrimary:
		u.AccessoriesPrimary = m.accessories(field)
	case FieldAccessoriesSecondary:
		u.AccessoriesSecondary = m.accessories(field)
	case FieldAccessoriesElement:
		u.AccessoriesElement = m.accessories(field)
	case FieldUserNotes:
		u.UserNotes = m.text("user_notes", notesKeys)
	case FieldInterested:
		interested, ok := extractInterest(extracted)
		if !ok {
			m.gap("is_interested")
		}
		u.IsInterested = &interested
	case FieldContactInfo:
		if email := m.text("contact_email", emailKeys); email != nil {
			v := strings.ToLower(*email)
			u.ContactEmail = &v
		}
		if vat := m.text("vat_number", vatKeys); vat != nil {
			v := strings.ToUpper(strings.Join(strings.Fields(*vat), ""))
			u.VATNumber = &v
		}
	default:
		m.gap(string(field))
	}
	return u, m.gaps
}

// extractInterest derives the answer to the commercial follow-up question.
// The boolean result is false when nothing usable was extracted.
func extractInterest(extracted map[string]any) (interested bool, found bool) {
	v, ok := lookup(extracted, interestKeys)
	if !ok {
		return false, false
	}
	return toBool(v)
}

type mapping struct {
	extracted map[string]any
	gaps      []string
}

func (m *mapping) gap(name string) {
	m.gaps = append(m.gaps, name)
}

func (m *mapping) text(name string, keys []string) *string {
	v, ok := lookup(m.extracted, keys)
	if !ok {
		m.gap(name)
		return nil
	}
	s, ok := toText(v)
	if !ok {
		m.gap(name)
		return nil
	}
	return &s
}

// choice is text canonicalized to one of the option labels when it matches.
func (m *mapping) choice(name string, keys []string, options []string) *string {
	s := m.text(name, keys)
	if s == nil {
		return nil
	}
	if label, ok := canonicalLabel(*s, options); ok {
		return &label
	}
	return s
}

func (m *mapping) number(name string, keys ...string) *float64 {
	v, ok := lookup(m.extracted, keys)
	if !ok {
		m.gap(name)
		return nil
	}
	f, ok := toNumber(v)
	if !ok {
		m.gap(name)
		return nil
	}
	return &f
}

func (m *mapping) integer(name string, keys ...string) *int {
	f := m.number(name, keys...)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// gate reads a gating boolean. A missing or unreadable gate counts as false.
func (m *mapping) gate(name string, keys []string) bool {
	v, ok := lookup(m.extracted, keys)
	if !ok {
		m.gap(name)
		return false
	}
	b, ok := toBool(v)
	if !ok {
		m.gap(name)
	}
	return b
}

// accessories always yields a non-nil selection so an answered phase stays
// distinguishable from one never asked.
func (m *mapping) accessories(field Field) *[]string {
	selected := []string{}
	v, ok := lookup(m.extracted, accessoryKeys(field))
	if !ok {
		m.gap(string(field))
		return &selected
	}
	selected = normalizeSelection(toList(v), optionsFor(field))
	return &selected
}

var noneWords = map[string]bool{
	"nessuno": true,
	"nessuna": true,
	"none":    true,
	"niente":  true,
}

// normalizeSelection trims, canonicalizes and de-duplicates labels, keeping
// the first occurrence order. A none selection excludes everything else.
func normalizeSelection(items []string, options []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if noneWords[strings.ToLower(item)] {
			return []string{NoneOption}
		}
		if label, ok := canonicalLabel(item, options); ok {
			item = label
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// canonicalLabel matches s against options case-insensitively. Options made
// of alternatives separated by "/" also match any single alternative.
func canonicalLabel(s string, options []string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, opt := range options {
		if strings.ToLower(opt) == needle {
			return opt, true
		}
	}
	for _, opt := range options {
		parts := strings.Split(opt, "/")
		if len(parts) < 2 {
			continue
		}
		for _, part := range parts {
			if strings.ToLower(strings.TrimSpace(part)) == needle {
				return opt, true
			}
		}
	}
	return "", false
}

// lookup returns the first present value among keys, trying exact names
// before a case-insensitive match. Nil values and blank strings are absent.
func lookup(extracted map[string]any, keys []string) (any, bool) {
	if len(extracted) == 0 {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := extracted[k]; ok && present(v) {
			return v, true
		}
	}
	for _, k := range keys {
		for name, v := range extracted {
			if strings.EqualFold(name, k) && present(v) {
				return v, true
			}
		}
	}
	return nil, false
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case bool:
		if t {
			return "Sì", true
		}
		return "No", true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case []any:
		s := strings.Join(toList(t), ", ")
		return s, s != ""
	case []string:
		s := strings.Join(t, ", ")
		return s, s != ""
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

var (
	numberPattern = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)*`)
	// Italian grouping: "1.500", "2.000.000", "1.500,5".
	groupedNumber = regexp.MustCompile(`^[-+]?\d{1,3}(?:\.\d{3})+(?:,\d+)?$`)
	plainNumber   = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?`)
)

// toNumber accepts JSON numbers and strings such as "32 cm", "3,5" or
// "1.500". A dot followed by groups of exactly three digits is a thousands
// separator.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case fmt.Stringer:
		return toNumber(t.String())
	case string:
		match := numberPattern.FindString(t)
		if match == "" {
			return 0, false
		}
		if groupedNumber.MatchString(match) {
			match = strings.ReplaceAll(match, ".", "")
		} else {
			match = plainNumber.FindString(match)
		}
		f, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return IsAffirmative(t), true
	case float64:
		return t != 0, true
	case []any, []string:
		return IsAffirmative(strings.Join(toList(t), " ")), true
	}
	return false, false
}

// toList accepts a JSON array or a delimited string.
func toList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := toText(item); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == ';' || r == '\n'
		})
	}
	if s, ok := toText(v); ok {
		return []string{s}
	}
	return nil
}
