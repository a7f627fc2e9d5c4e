package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidNumeric = errors.New("invalid numeric column")

// numericArg renders a base-unit amount for a NUMERIC(78,0) column.
func numericArg(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

// parseNumeric reads a NUMERIC(78,0) column. Postgres may render integral numerics with a
// trailing ".0" scale, which is stripped.
func parseNumeric(raw string) (sdkmath.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sdkmath.ZeroInt(), nil
	}
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		if strings.Trim(raw[i+1:], "0") != "" {
			return sdkmath.ZeroInt(), errors.Join(ErrInvalidNumeric, fmt.Errorf("fractional amount %q", raw))
		}
		raw = raw[:i]
	}
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.ZeroInt(), errors.Join(ErrInvalidNumeric, fmt.Errorf("%q", raw))
	}
	return v, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func addressArg(a *common.Address) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Hex(), Valid: true}
}

// clampLimit bounds page sizes for the read API.
func clampLimit(limit, fallback, upper int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > upper {
		return upper
	}
	return limit
}
