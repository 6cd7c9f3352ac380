// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a short readable identifier such as "trc_3f9a0c1b2d4e".
//
// The suffix is the first 12 hex characters of a random UUID. IDs are for
// display and lookup, not for security.
func NewID(prefix string) string {
	if prefix == "" {
		prefix = "id"
	}
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}

// NowLabel formats t as the display label used for CreatedAt ("Today, 14:05").
func NowLabel(t time.Time) string {
	return fmt.Sprintf("Today, %02d:%02d", t.Hour(), t.Minute())
}
