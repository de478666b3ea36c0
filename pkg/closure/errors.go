// SPDX-License-Identifier: Apache-2.0

package closure

import "fmt"

// CycleError describes a cyclic foreign key dependency among tables. No
// closure stage constructs or returns it: dependencyOrder places cyclic
// tables in the order without error, just without the same ordering
// guarantee relative to each other.
type CycleError struct {
	Tables []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("closure: cyclic foreign key dependency among tables: %v", e.Tables)
}
