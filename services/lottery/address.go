package lottery

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
)

// AddressValidator decides whether an identity is a well-formed account.
type AddressValidator interface {
	ValidateAddress(addr string) error
}

// AddressValidatorFunc adapts a function to AddressValidator.
type AddressValidatorFunc func(addr string) error

// ValidateAddress implements AddressValidator.
func (f AddressValidatorFunc) ValidateAddress(addr string) error {
	return f(addr)
}

// NeoAddressValidator accepts Neo N3 base58check addresses.
type NeoAddressValidator struct{}

// ValidateAddress implements AddressValidator.
func (NeoAddressValidator) ValidateAddress(addr string) error {
	if _, err := address.StringToUint160(addr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	return nil
}

// PermissiveAddressValidator accepts any non-empty identity without
// whitespace. It suits local networks with human-readable account names.
type PermissiveAddressValidator struct{}

// ValidateAddress implements AddressValidator.
func (PermissiveAddressValidator) ValidateAddress(addr string) error {
	if addr == "" || strings.IndexFunc(addr, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}
