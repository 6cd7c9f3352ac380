// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxIssues caps the number of issues carried by a ValidationError.
const MaxIssues = 5

// ErrSchemaViolation is matched by every *ValidationError via errors.Is.
var ErrSchemaViolation = errors.New("schema violation")

// Issue is a single schema violation.
//
// Path uses dot-separated JSON field names with numeric sequence indexes
// ("evidence.0.title"). Violations of the input as a whole use "root".
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports why input does not conform to the Trace schema.
//
// # Description
//
// Carries at most MaxIssues issues, ordered the way the Trace fields are
// declared. The error string is a single human-readable line suitable for
// returning to API callers unchanged.
//
// # Examples
//
//	_, err := trace.Validate(input)
//	var verr *trace.ValidationError
//	if errors.As(err, &verr) {
//	    for _, issue := range verr.Issues {
//	        fmt.Println(issue.Path, issue.Message)
//	    }
//	}
type ValidationError struct {
	Issues []Issue
}

// Kind returns the error taxonomy name for schema failures.
func (e *ValidationError) Kind() string {
	return "SchemaViolation"
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Path+": "+issue.Message)
	}
	return "Invalid Trace object: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrSchemaViolation) match.
func (e *ValidationError) Unwrap() error {
	return ErrSchemaViolation
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// schemaValidate holds the content rules declared as struct tags on Trace.
// Initialized in init() with the enum validators.
var schemaValidate *validator.Validate

func init() {
	schemaValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names so field paths match the wire format.
	schemaValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = schemaValidate.RegisterValidation("confidence", func(fl validator.FieldLevel) bool {
		return Confidence(fl.Field().String()).Valid()
	})
	_ = schemaValidate.RegisterValidation("riskflag", func(fl validator.FieldLevel) bool {
		return RiskFlag(fl.Field().String()).Valid()
	})
	_ = schemaValidate.RegisterValidation("evidencesource", func(fl validator.FieldLevel) bool {
		return EvidenceSource(fl.Field().String()).Valid()
	})
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks untyped input against the Trace schema.
//
// # Description
//
// Validation runs in two passes. The structural pass walks decoded JSON
// (map[string]any) and reports missing fields and wrong primitive types. The
// content pass applies the validator tags declared on Trace: non-empty
// strings, minimum sequence lengths and closed enum membership. A structural
// issue at a path suppresses content issues at or below that path.
//
// Unknown keys are dropped. A missing riskFlags field defaults to an empty
// sequence; no other value is coerced.
//
// # Inputs
//
//   - input: map[string]any (decoded JSON), Trace, *Trace, []byte or
//     json.RawMessage holding a JSON document. Any other value fails at "root".
//
// # Outputs
//
//   - Trace: The validated trace (independent copy of the input).
//   - error: *ValidationError matching ErrSchemaViolation, or nil.
func Validate(input any) (Trace, error) {
	switch v := input.(type) {
	case Trace:
		return validateTyped(v)
	case *Trace:
		if v == nil {
			return Trace{}, rootIssue("Expected object, received null")
		}
		return validateTyped(*v)
	case json.RawMessage:
		return validateJSON(v)
	case []byte:
		return validateJSON(v)
	default:
		generic, err := toGeneric(input)
		if err != nil {
			return Trace{}, rootIssue(err.Error())
		}
		if m, ok := generic.(map[string]any); ok {
			return validateMap(m)
		}
		return Trace{}, rootIssue("Expected object, received " + typeName(generic))
	}
}

func validateJSON(data []byte) (Trace, error) {
	generic, err := decodeGeneric(data)
	if err != nil {
		return Trace{}, rootIssue("Invalid JSON: " + err.Error())
	}
	m, ok := generic.(map[string]any)
	if !ok {
		return Trace{}, rootIssue("Expected object, received " + typeName(generic))
	}
	return validateMap(m)
}

func validateTyped(t Trace) (Trace, error) {
	c := &collector{}
	c.addValidatorErrors(schemaValidate.Struct(t))
	if err := c.err(); err != nil {
		return Trace{}, err
	}
	return t.Clone(), nil
}

func validateMap(m map[string]any) (Trace, error) {
	c := &collector{}
	r := reader{c: c}

	t := Trace{
		ID:           r.str(m, "id", "id"),
		OrgID:        r.str(m, "orgId", "orgId"),
		ClientID:     r.str(m, "clientId", "clientId"),
		DocID:        r.str(m, "docId", "docId"),
		CreatedAt:    r.str(m, "createdAt", "createdAt"),
		Claims:       r.strs(m, "claims", "claims"),
		Assumptions:  r.strs(m, "assumptions", "assumptions"),
		Evidence:     r.evidence(m),
		Calculations: r.calculations(m),
		Citations:    r.strs(m, "citations", "citations"),
		Confidence:   Confidence(r.str(m, "confidence", "confidence")),
		RiskFlags:    r.riskFlags(m),
	}

	c.addValidatorErrors(schemaValidate.Struct(t))
	if err := c.err(); err != nil {
		return Trace{}, err
	}
	return t.Clone(), nil
}

// =============================================================================
// Structural Pass
// =============================================================================

type reader struct {
	c *collector
}

func (r reader) str(m map[string]any, key, path string) string {
	v, present := m[key]
	if !present {
		r.c.structural(path, "Required")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.c.structural(path, "Expected string, received "+typeName(v))
		return ""
	}
	return s
}

// list returns the elements of m[key] or nil with an issue recorded.
func (r reader) list(m map[string]any, key, path string) ([]any, bool) {
	v, present := m[key]
	if !present {
		r.c.structural(path, "Required")
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		r.c.structural(path, "Expected array, received "+typeName(v))
		return nil, false
	}
	return items, true
}

func (r reader) strs(m map[string]any, key, path string) []string {
	items, ok := r.list(m, key, path)
	if !ok {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			r.c.structural(indexPath(path, i), "Expected string, received "+typeName(item))
			continue
		}
		out[i] = s
	}
	return out
}

func (r reader) objects(m map[string]any, key string) []map[string]any {
	items, ok := r.list(m, key, key)
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			r.c.structural(indexPath(key, i), "Expected object, received "+typeName(item))
			out[i] = map[string]any{}
			continue
		}
		out[i] = obj
	}
	return out
}

func (r reader) evidence(m map[string]any) []EvidenceItem {
	objs := r.objects(m, "evidence")
	if objs == nil {
		return nil
	}
	out := make([]EvidenceItem, len(objs))
	for i, obj := range objs {
		p := indexPath("evidence", i)
		if r.c.suppressed(p) {
			continue
		}
		out[i] = EvidenceItem{
			ID:        r.str(obj, "id", p+".id"),
			Title:     r.str(obj, "title", p+".title"),
			Source:    EvidenceSource(r.str(obj, "source", p+".source")),
			Reference: r.str(obj, "reference", p+".reference"),
			Timestamp: r.str(obj, "timestamp", p+".timestamp"),
		}
	}
	return out
}

func (r reader) calculations(m map[string]any) []CalculationItem {
	objs := r.objects(m, "calculations")
	if objs == nil {
		return nil
	}
	out := make([]CalculationItem, len(objs))
	for i, obj := range objs {
		p := indexPath("calculations", i)
		if r.c.suppressed(p) {
			continue
		}
		out[i] = CalculationItem{
			ID:      r.str(obj, "id", p+".id"),
			Label:   r.str(obj, "label", p+".label"),
			Formula: r.str(obj, "formula", p+".formula"),
			Result:  r.str(obj, "result", p+".result"),
		}
	}
	return out
}

func (r reader) riskFlags(m map[string]any) []RiskFlag {
	if _, present := m["riskFlags"]; !present {
		return []RiskFlag{}
	}
	raw := r.strs(m, "riskFlags", "riskFlags")
	if raw == nil {
		return nil
	}
	out := make([]RiskFlag, len(raw))
	for i, s := range raw {
		out[i] = RiskFlag(s)
	}
	return out
}

// =============================================================================
// Issue Collection
// =============================================================================

type collector struct {
	issues  []Issue
	blocked []string
}

// structural records a type or presence issue and blocks content issues
// for the same path.
func (c *collector) structural(path, msg string) {
	c.issues = append(c.issues, Issue{Path: path, Message: msg})
	c.blocked = append(c.blocked, path)
}

func (c *collector) suppressed(path string) bool {
	for _, b := range c.blocked {
		if path == b || strings.HasPrefix(path, b+".") {
			return true
		}
	}
	return false
}

func (c *collector) addValidatorErrors(err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.issues = append(c.issues, Issue{Path: "root", Message: err.Error()})
		return
	}
	for _, fe := range fieldErrs {
		path := namespacePath(fe.Namespace())
		if c.suppressed(path) {
			continue
		}
		c.issues = append(c.issues, Issue{Path: path, Message: contentMessage(fe)})
	}
}

func (c *collector) err() error {
	if len(c.issues) == 0 {
		return nil
	}
	issues := append([]Issue(nil), c.issues...)
	sort.SliceStable(issues, func(i, j int) bool {
		return lessRank(rankOf(issues[i].Path), rankOf(issues[j].Path))
	})
	if len(issues) > MaxIssues {
		issues = issues[:MaxIssues]
	}
	return &ValidationError{Issues: issues}
}

func rootIssue(msg string) error {
	return &ValidationError{Issues: []Issue{{Path: "root", Message: msg}}}
}

func contentMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "String must contain at least 1 character(s)"
	case "min":
		return fmt.Sprintf("Array must contain at least %s element(s)", fe.Param())
	case "confidence":
		return enumMessage(Confidences, fe.Value())
	case "riskflag":
		return enumMessage(RiskFlags, fe.Value())
	case "evidencesource":
		return enumMessage(EvidenceSources, fe.Value())
	default:
		return "Invalid value (" + fe.Tag() + ")"
	}
}

func enumMessage[T ~string](allowed []T, received any) string {
	quoted := make([]string, len(allowed))
	for i, a := range allowed {
		quoted[i] = "'" + string(a) + "'"
	}
	return fmt.Sprintf("Invalid enum value. Expected %s, received '%v'",
		strings.Join(quoted, " | "), received)
}

// =============================================================================
// Paths
// =============================================================================

var (
	traceFieldOrder = map[string]int{
		"id": 0, "orgId": 1, "clientId": 2, "docId": 3, "createdAt": 4,
		"claims": 5, "assumptions": 6, "evidence": 7, "calculations": 8,
		"citations": 9, "confidence": 10, "riskFlags": 11,
	}
	evidenceFieldOrder    = map[string]int{"id": 0, "title": 1, "source": 2, "reference": 3, "timestamp": 4}
	calculationFieldOrder = map[string]int{"id": 0, "label": 1, "formula": 2, "result": 3}
)

// namespacePath converts "Trace.evidence[0].title" into "evidence.0.title".
func namespacePath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	} else {
		return "root"
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

func indexPath(base string, i int) string {
	return base + "." + strconv.Itoa(i)
}

// rankOf maps a path to its position in schema declaration order.
func rankOf(path string) []int {
	if path == "root" {
		return []int{-1}
	}
	segs := strings.Split(path, ".")
	rank := make([]int, 0, len(segs))
	order := traceFieldOrder
	for depth, seg := range segs {
		if n, err := strconv.Atoi(seg); err == nil {
			rank = append(rank, n)
			continue
		}
		pos, ok := order[seg]
		if !ok {
			pos = len(order)
		}
		rank = append(rank, pos)
		if depth == 0 {
			switch seg {
			case "evidence":
				order = evidenceFieldOrder
			case "calculations":
				order = calculationFieldOrder
			}
		}
	}
	return rank
}

func lessRank(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// =============================================================================
// Generic JSON Helpers
// =============================================================================

// toGeneric normalizes Go values into the shapes encoding/json produces
// when decoding into any.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Unsupported input: %w", err)
	}
	return decodeGeneric(data)
}

func decodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return out, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
