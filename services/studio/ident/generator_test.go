// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/AleutianAI/AleutianStudio/services/studio/storage/badger"
)

func TestNextFormatsAndAdvances(t *testing.T) {
	g := NewGenerator(Config{})

	assert.Equal(t, "el-1", g.Next(KindElement))
	assert.Equal(t, "el-2", g.Next(KindElement))
	assert.Equal(t, "mod-1", g.Next(KindModule))
	assert.Equal(t, "pag-1", g.Next(KindPage))

	// Counters are independent per kind.
	assert.Equal(t, uint64(2), g.Peek(KindElement))
	assert.Equal(t, uint64(0), g.Peek(KindLesson))
}

func TestBase36Rendering(t *testing.T) {
	g := NewGenerator(Config{})
	for i := 0; i < 35; i++ {
		g.Next(KindLesson)
	}

	// 36 in base36 is "10".
	assert.Equal(t, "les-z", FormatID(KindLesson, 35))
	assert.Equal(t, "les-10", g.Next(KindLesson))
}

func TestCountersSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	cfg := storage.DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	db, err := storage.OpenDB(cfg)
	require.NoError(t, err)

	g := NewGenerator(Config{DB: db})
	for i := 0; i < 5; i++ {
		g.Next(KindElement)
	}
	g.Next(KindPage)
	require.NoError(t, db.Close())

	db2, err := storage.OpenDB(cfg)
	require.NoError(t, err)
	defer db2.Close()

	g2 := NewGenerator(Config{DB: db2})
	assert.Equal(t, uint64(5), g2.Peek(KindElement))
	assert.Equal(t, "el-6", g2.Next(KindElement))
	assert.Equal(t, "pag-2", g2.Next(KindPage))
}

func TestInitFromExisting(t *testing.T) {
	g := NewGenerator(Config{})
	g.InitFromExisting([]string{
		"el-z",      // 35
		"el-4",      // lower than el-z, must not lower the counter
		"pag-10",    // 36
		"not-an-id", // ignored
		"les",       // no separator suffix, ignored
	})

	assert.Equal(t, "el-10", g.Next(KindElement))
	assert.Equal(t, "pag-11", g.Next(KindPage))
	assert.Equal(t, "mod-1", g.Next(KindModule))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		id       string
		wantKind Kind
		wantN    uint64
		wantOK   bool
	}{
		{"el-1", KindElement, 1, true},
		{"el-z", KindElement, 35, true},
		{"mod-10", KindModule, 36, true},
		{"tl-3", KindTimeline, 3, true},
		{"var-a", KindVariable, 10, true},
		{"el-", "", 0, false},
		{"el-!!", "", 0, false},
		{"element-1", "", 0, false},
		{"42", "", 0, false},
		{"", "", 0, false},
	}

	for _, tc := range tests {
		kind, n, ok := ParseID(tc.id)
		assert.Equal(t, tc.wantOK, ok, "ParseID(%q) ok", tc.id)
		if tc.wantOK {
			assert.Equal(t, tc.wantKind, kind, "ParseID(%q) kind", tc.id)
			assert.Equal(t, tc.wantN, n, "ParseID(%q) value", tc.id)
		}
	}
}

func TestIsLegacyID(t *testing.T) {
	assert.False(t, IsLegacyID("el-7"))
	assert.True(t, IsLegacyID("7"))
	assert.True(t, IsLegacyID("shape_7"))
	assert.True(t, IsLegacyID("lesson-one"))
}
