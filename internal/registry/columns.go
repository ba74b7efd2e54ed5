package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value any) error {
	return scanJSON(value, l)
}

// ErrorList is a []SyncError stored as a JSON text column. Order is
// preserved: errors append in occurrence order.
type ErrorList []SyncError

func (l ErrorList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *ErrorList) Scan(value any) error {
	return scanJSON(value, l)
}

func (a AuthSpec) Value() (driver.Value, error) {
	if a.Version == 0 {
		a.Version = AuthSpecVersion
	}
	return json.Marshal(a)
}

func (a *AuthSpec) Scan(value any) error {
	return scanJSON(value, a)
}

func (f FormatSpec) Value() (driver.Value, error) {
	if f.Version == 0 {
		f.Version = FormatSpecVersion
	}
	return json.Marshal(f)
}

func (f *FormatSpec) Scan(value any) error {
	return scanJSON(value, f)
}

func (h DetectionHints) Value() (driver.Value, error) {
	if h.Version == 0 {
		h.Version = DetectionHintsVersion
	}
	return json.Marshal(h)
}

func (h *DetectionHints) Scan(value any) error {
	return scanJSON(value, h)
}

// scanJSON decodes a JSON column. The sqlite driver hands TEXT columns back
// as string, other drivers as []byte.
func scanJSON(value any, dest any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dest)
	}
}
