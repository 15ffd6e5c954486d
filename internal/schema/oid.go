package schema

import (
	"github.com/JesseCoretta/go-objectid"
	"github.com/pkg/errors"
)

// ErrInvalidOID is returned when a schema element's OID fails dot-notation
// validation.
var ErrInvalidOID = errors.New("schema: invalid numeric OID")

// NumericOID wraps go-objectid's DotNotation so every OID the registry
// accepts (from bootstrap literals or from a schemaop registration
// request) is a validated numeric OID, never an arbitrary string.
type NumericOID struct {
	*objectid.DotNotation
}

// ParseOID validates raw as a dotted-decimal numeric OID.
func ParseOID(raw string) (NumericOID, error) {
	dn, err := objectid.NewDotNotation(raw)
	if err != nil {
		return NumericOID{}, errors.Wrapf(ErrInvalidOID, "%q: %v", raw, err)
	}
	return NumericOID{DotNotation: dn}, nil
}

// MustParseOID panics on an invalid OID; used only for compiled-in
// bootstrap schema literals where the OID is a constant the engine
// controls.
func MustParseOID(raw string) NumericOID {
	oid, err := ParseOID(raw)
	if err != nil {
		panic(err)
	}
	return oid
}

// IsValidOID reports whether raw parses as a numeric OID.
func IsValidOID(raw string) bool {
	_, err := objectid.NewDotNotation(raw)
	return err == nil
}
