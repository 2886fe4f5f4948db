// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamad

import (
	"github.com/google/uuid"
)

// AD stores objectGUID with the first three fields little-endian, which is also how Microsoft tools display them.
func swapGUIDByteOrder(b [16]byte) [16]byte {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

func guidToBytes(id uuid.UUID) []byte {
	le := swapGUIDByteOrder(id)
	return le[:]
}

func guidFromBytes(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, err
	}
	return swapGUIDByteOrder(id), nil
}
