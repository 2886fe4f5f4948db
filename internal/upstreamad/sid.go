// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const sidRevision = 1

var errSIDTooShort = errors.New("SID is shorter than expected")

// SecurityID is a Windows security identifier in the binary layout documented in
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-dtyp/f992ad60-0fe4-4b87-9fed-beb478836861
type SecurityID struct {
	Revision            uint8
	IdentifierAuthority uint64 // 48 bits
	SubAuthorities      []uint32
}

// ParseSecurityID decodes the objectSid attribute. The authority is big-endian while the
// sub-authorities are little-endian.
func ParseSecurityID(b []byte) (SecurityID, error) {
	if len(b) < 1 {
		return SecurityID{}, errSIDTooShort
	}
	if b[0] != sidRevision {
		return SecurityID{}, fmt.Errorf("unknown SID format revision %d", b[0])
	}
	if len(b) < 8 {
		return SecurityID{}, errSIDTooShort
	}

	count := int(b[1])
	var authority [8]byte
	copy(authority[2:], b[2:8])

	rest := b[8:]
	if len(rest) < count*4 {
		return SecurityID{}, errSIDTooShort
	}
	if len(rest) > count*4 {
		return SecurityID{}, errors.New("SID is longer than expected")
	}

	subs := make([]uint32, count)
	for i := range subs {
		subs[i] = binary.LittleEndian.Uint32(rest[i*4:])
	}

	return SecurityID{
		Revision:            b[0],
		IdentifierAuthority: binary.BigEndian.Uint64(authority[:]),
		SubAuthorities:      subs,
	}, nil
}

// String renders the S-R-I-S-S... form documented in
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-dtyp/c92a27b1-c772-4fa7-a432-15df5f1b66a1
func (s SecurityID) String() string {
	var b strings.Builder
	b.WriteString("S-")
	b.WriteString(strconv.FormatUint(uint64(s.Revision), 10))
	b.WriteByte('-')
	if s.IdentifierAuthority < 1<<32 {
		b.WriteString(strconv.FormatUint(s.IdentifierAuthority, 10))
	} else {
		fmt.Fprintf(&b, "0x%012X", s.IdentifierAuthority)
	}
	for _, sub := range s.SubAuthorities {
		b.WriteByte('-')
		b.WriteString(strconv.FormatUint(uint64(sub), 10))
	}
	return b.String()
}

// WithRelativeID returns a sibling SID in the same domain, i.e. with the last sub-authority replaced.
func (s SecurityID) WithRelativeID(rid uint32) (SecurityID, bool) {
	if len(s.SubAuthorities) == 0 {
		return SecurityID{}, false
	}
	subs := append([]uint32(nil), s.SubAuthorities...)
	subs[len(subs)-1] = rid
	return SecurityID{Revision: s.Revision, IdentifierAuthority: s.IdentifierAuthority, SubAuthorities: subs}, true
}
