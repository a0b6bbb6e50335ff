// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-dstwr/dw1000"
)

// ProbeBus checks for a DW1000 on bus without writing to it. Passive mode
// never touches the bus and reports Low.
func ProbeBus(ctx context.Context, bus dw1000.Bus, mode Mode) (Confidence, error) {
	if mode == Passive {
		return Low, nil
	}

	dev, err := dw1000.New(ctx, bus)
	if err != nil {
		return Low, fmt.Errorf("probe: %w", err)
	}
	if mode == Full {
		if _, err := dev.ReadStatusFlags(ctx); err != nil {
			return Medium, fmt.Errorf("probe status: %w", err)
		}
	}
	return High, nil
}
