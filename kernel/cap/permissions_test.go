// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import "testing"

func TestPermissionsContains(t *testing.T) {
	tests := []struct {
		name     string
		held     Permissions
		required Permissions
		want     bool
	}{
		{"exact", PermRead, PermRead, true},
		{"superset", PermRead | PermWrite, PermRead, true},
		{"missing", PermRead, PermWrite, false},
		{"partial", PermRead, PermRead | PermWrite, false},
		{"none required", PermRead, PermNone, true},
		{"all holds everything", PermAll, PermRead | PermWrite | PermExecute | PermGrant | PermRevoke, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.held.Contains(tt.required); got != tt.want {
				t.Errorf("%v.Contains(%v) = %v, want %v", tt.held, tt.required, got, tt.want)
			}
		})
	}
}

func TestPermissionsSubsetOf(t *testing.T) {
	tests := []struct {
		name   string
		child  Permissions
		parent Permissions
		want   bool
	}{
		{"equal", PermRead | PermWrite, PermRead | PermWrite, true},
		{"strict subset", PermRead, PermRead | PermWrite, true},
		{"empty subset of anything", PermNone, PermRead, true},
		{"widening", PermRead | PermGrant, PermRead, false},
		{"disjoint", PermExecute, PermRead | PermWrite, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.child.SubsetOf(tt.parent); got != tt.want {
				t.Errorf("%v.SubsetOf(%v) = %v, want %v", tt.child, tt.parent, got, tt.want)
			}
		})
	}
}

func TestPermissionsString(t *testing.T) {
	if got := (PermRead | PermWrite).String(); got != "read+write" {
		t.Errorf("String() = %q, want %q", got, "read+write")
	}
	if got := PermNone.String(); got != "none" {
		t.Errorf("PermNone.String() = %q, want %q", got, "none")
	}
}
