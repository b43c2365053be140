package event

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/noxfi/nox-indexer/internal/model"
)

// tagRegex matches: {address}::{module}::{name}[<generic args>]
// Example: 0x2::token_pool::NoteCreated<0x1::aptos_coin::AptosCoin>
var tagRegex = regexp.MustCompile(
	`^(0x[0-9a-fA-F]+)::([A-Za-z_][A-Za-z0-9_]*)::([A-Za-z_][A-Za-z0-9_]*)(<.*>)?$`,
)

var ErrInvalidTag = errors.New("event: invalid type tag")

// Tag is a parsed, fully qualified Move identifier. Event types and entry
// function ids share this form.
type Tag struct {
	Address model.OwnerID
	Module  string
	Name    string
}

// ParseTag parses a type tag or function id. Generic arguments are dropped
// and the address is normalised to its 32-byte form, so 0x2 and
// 0x000...02 compare equal.
func ParseTag(s string) (*Tag, error) {
	matches := tagRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}

	addr, err := model.ParseOwner(matches[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTag, s, err)
	}

	return &Tag{
		Address: addr,
		Module:  matches[2],
		Name:    matches[3],
	}, nil
}

// Suffix returns module::name, the part of the tag used for routing.
func (t *Tag) Suffix() string {
	return t.Module + "::" + t.Name
}

func (t *Tag) String() string {
	return t.Address.String() + "::" + t.Suffix()
}
