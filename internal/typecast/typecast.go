// Package typecast converts raw engine values to the Go representation of a
// column type, and normalizes values used as map keys.
//
// Representations:
//
//	integer → int64
//	float   → float64
//	decimal → *apd.Decimal
//	string  → string (NFC-normalized)
//	boolean → bool
//	time    → time.Time
//
// nil always casts to nil. Failures are TYPE_CAST errors.
package typecast

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/schema"
)

// timeLayouts are tried in order when parsing textual timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Cast converts v to the representation of column type t.
func Cast(v any, t schema.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	var (
		out any
		err error
	)
	switch t {
	case schema.TypeInteger:
		out, err = toInt64(v)
	case schema.TypeFloat:
		out, err = toFloat64(v)
	case schema.TypeDecimal:
		out, err = ToDecimal(v)
	case schema.TypeString:
		out, err = toString(v)
	case schema.TypeBoolean:
		out, err = toBool(v)
	case schema.TypeTime:
		out, err = toTime(v)
	default:
		return nil, qerr.TypeCast(v, string(t), fmt.Errorf("unknown column type"))
	}
	if err != nil {
		return nil, qerr.TypeCast(v, string(t), err)
	}
	return out, nil
}

// Zero returns the typed zero used for sums over empty sets.
func Zero(t schema.ColumnType) any {
	switch t {
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeFloat:
		return float64(0)
	case schema.TypeDecimal:
		return apd.New(0, 0)
	default:
		return int64(0)
	}
}

// ToDecimal converts numeric and textual values to an exact decimal.
func ToDecimal(v any) (*apd.Decimal, error) {
	switch x := v.(type) {
	case *apd.Decimal:
		return x, nil
	case apd.Decimal:
		return &x, nil
	case int:
		return apd.New(int64(x), 0), nil
	case int32:
		return apd.New(int64(x), 0), nil
	case int64:
		return apd.New(x, 0), nil
	case float32:
		return decimalFromFloat(float64(x))
	case float64:
		return decimalFromFloat(x)
	case string:
		d, _, err := apd.NewFromString(strings.TrimSpace(x))
		return d, err
	case []byte:
		d, _, err := apd.NewFromString(string(x))
		return d, err
	default:
		return nil, fmt.Errorf("unsupported value")
	}
}

func decimalFromFloat(f float64) (*apd.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float")
	}
	d := new(apd.Decimal)
	// Shortest representation that round-trips, so 19.99 stays 19.99.
	_, _, err := d.SetString(strconv.FormatFloat(f, 'f', -1, 64))
	return d, err
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("overflow")
		}
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("overflow")
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("fractional value")
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case *apd.Decimal:
		return x.Int64()
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("overflow")
		}
		return x.Int64(), nil
	default:
		return 0, fmt.Errorf("unsupported value")
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case *apd.Decimal:
		return x.Float64()
	default:
		return 0, fmt.Errorf("unsupported value")
	}
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(x), nil
	case fmt.Stringer:
		return norm.NFC.String(x.String()), nil
	case int64, int, int32, float64, bool:
		return fmt.Sprint(x), nil
	default:
		return "", fmt.Errorf("unsupported value")
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "t", "true", "1":
			return true, nil
		case "f", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean")
	default:
		return false, fmt.Errorf("unsupported value")
	}
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time format")
	case int64:
		return time.Unix(x, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported value")
	}
}

// Key normalizes a value for use as a map key, so that the same logical key
// read through different drivers or column types compares equal.
//
// Integer widths become int64, integral floats become int64, []byte and
// strings become NFC-normalized strings, decimals become their canonical
// text. Other values are returned unchanged.
func Key(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []byte:
		return norm.NFC.String(string(x))
	case string:
		return norm.NFC.String(x)
	case *apd.Decimal:
		if i, err := x.Int64(); err == nil {
			return i
		}
		reduced := new(apd.Decimal)
		reduced.Reduce(x)
		return reduced.Text('f')
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}
