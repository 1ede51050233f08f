package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeList is the jsonb-persisted list of forecast valid times (UTC).
type TimeList []time.Time

// Compile-time interface assertions.
// Every jsonb payload type must implement both sql.Scanner and driver.Valuer
// so the pgx layer round-trips them without per-call marshaling. Scan is on
// pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*TimeList)(nil)
	_ driver.Valuer = TimeList(nil)
	_ sql.Scanner   = (*HourlyData)(nil)
	_ driver.Valuer = HourlyData(nil)
	_ sql.Scanner   = (*UnitMap)(nil)
	_ driver.Valuer = UnitMap(nil)
	_ sql.Scanner   = (*EnhancedData)(nil)
	_ driver.Valuer = EnhancedData{}
	_ sql.Scanner   = (*EnsembleRanges)(nil)
	_ driver.Valuer = EnsembleRanges(nil)
	_ sql.Scanner   = (*WeightMap)(nil)
	_ driver.Valuer = WeightMap(nil)
	_ sql.Scanner   = (*SourceRunMap)(nil)
	_ driver.Valuer = SourceRunMap(nil)
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// scanJSONB unmarshals a jsonb database value into dest. It handles nil,
// []byte, and string representations.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB marshals v to a jsonb-compatible driver.Value. Nil stays nil so
// nullable columns stay NULL rather than becoming the string "null".
func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonb: marshal: %w", err)
	}
	return data, nil
}

func (t *TimeList) Scan(value any) error { return scanJSONB(t, value) }
func (t TimeList) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return valueJSONB([]time.Time(t))
}

func (h *HourlyData) Scan(value any) error { return scanJSONB(h, value) }
func (h HourlyData) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	return valueJSONB(map[string][]*float64(h))
}

func (u *UnitMap) Scan(value any) error { return scanJSONB(u, value) }
func (u UnitMap) Value() (driver.Value, error) {
	if u == nil {
		return nil, nil
	}
	return valueJSONB(map[string]string(u))
}

func (e *EnhancedData) Scan(value any) error { return scanJSONB(e, value) }
func (e EnhancedData) Value() (driver.Value, error) {
	type plain EnhancedData
	return valueJSONB(plain(e))
}

func (r *EnsembleRanges) Scan(value any) error { return scanJSONB(r, value) }
func (r EnsembleRanges) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return valueJSONB(map[string]VariableRange(r))
}

func (w *WeightMap) Scan(value any) error { return scanJSONB(w, value) }
func (w WeightMap) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	return valueJSONB(map[string]float64(w))
}

func (s *SourceRunMap) Scan(value any) error { return scanJSONB(s, value) }
func (s SourceRunMap) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return valueJSONB(map[string]string(s))
}

func (m *Metadata) Scan(value any) error { return scanJSONB(m, value) }
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSONB(map[string]any(m))
}
