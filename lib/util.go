package lib

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MarshalJSONIndent() serializes a message into an indented JSON byte slice
func MarshalJSONIndent(message any) ([]byte, ErrorI) {
	bz, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// MarshalJSONIndentString() serializes a message into an indented JSON string
func MarshalJSONIndentString(message any) (string, ErrorI) {
	bz, err := MarshalJSONIndent(message)
	return string(bz), err
}

// ParseLoyalty() reads a loyalty array either as comma separated booleans ('true,true,false')
// or as one character per general: 'L' or '1' for loyal, 'T' or '0' for traitor ('LLLT')
func ParseLoyalty(s string) ([]bool, ErrorI) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidArgument("empty loyalty")
	}
	if strings.Contains(s, ",") {
		fields := strings.Split(s, ",")
		loyalty := make([]bool, len(fields))
		for i, f := range fields {
			b, err := strconv.ParseBool(strings.TrimSpace(f))
			if err != nil {
				return nil, ErrInvalidArgument("loyalty entry " + strconv.Quote(f))
			}
			loyalty[i] = b
		}
		return loyalty, nil
	}
	loyalty := make([]bool, 0, len(s))
	for _, r := range strings.ToUpper(s) {
		switch r {
		case 'L', '1':
			loyalty = append(loyalty, true)
		case 'T', '0':
			loyalty = append(loyalty, false)
		default:
			return nil, ErrInvalidArgument("loyalty character " + strconv.QuoteRune(r))
		}
	}
	return loyalty, nil
}
