// SPDX-License-Identifier: Apache-2.0

package testutils

import "github.com/google/uuid"

func randomDBName() string {
	return "testdb_" + uuid.NewString()[:8]
}
