// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package demo is a small built-in toolkit so the arcade-mcp binary has
// something to serve out of the box.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/catalog"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/datacache"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// Toolkit is the toolkit name every demo tool is registered under.
const Toolkit = "Demo"

// ProfilesTable is the datacache table the profile tools share.
const ProfilesTable = "profiles"

// ProfileTTL bounds how long a saved profile survives.
const ProfileTTL = 24 * time.Hour

func boolPtr(b bool) *bool { return &b }

func stringParam(name, description string, required bool) catalog.Parameter {
	return catalog.Parameter{
		Name:        name,
		Description: description,
		Required:    required,
		Schema:      &catalog.ValueSchema{Type: catalog.TypeString},
	}
}

// Register adds every demo tool to cat.
func Register(cat *catalog.Catalog) error {
	profileCache, err := datacache.NewConfig(ProfileTTL,
		string(datacache.KeyOrganization), string(datacache.KeyUserID))
	if err != nil {
		return fmt.Errorf("demo datacache config: %w", err)
	}

	tools := []struct {
		def catalog.ToolDefinition
		fn  catalog.Func
	}{
		{
			def: catalog.ToolDefinition{
				Name:        catalog.Name{Toolkit: Toolkit, Tool: "Echo"},
				Title:       "Echo",
				Description: "Returns the message it was given.",
				Parameters:  []catalog.Parameter{stringParam("message", "Text to echo back", true)},
				Output: &catalog.Output{
					Description: "The same message",
					Schema:      &catalog.ValueSchema{Type: catalog.TypeString},
				},
				Behavior: catalog.Behavior{ReadOnly: boolPtr(true), Idempotent: boolPtr(true), OpenWorld: boolPtr(false)},
			},
			fn: Echo,
		},
		{
			def: catalog.ToolDefinition{
				Name:        catalog.Name{Toolkit: Toolkit, Tool: "SaveProfile"},
				Title:       "Save profile",
				Description: "Saves a profile for the calling user in the datacache.",
				Parameters: []catalog.Parameter{
					stringParam("id", "Profile id", true),
					stringParam("name", "Display name", true),
					stringParam("email", "Contact email", false),
				},
				Behavior:  catalog.Behavior{ReadOnly: boolPtr(false), Idempotent: boolPtr(true), Destructive: boolPtr(false)},
				Datacache: profileCache,
			},
			fn: SaveProfile,
		},
		{
			def: catalog.ToolDefinition{
				Name:        catalog.Name{Toolkit: Toolkit, Tool: "GetProfile"},
				Title:       "Get profile",
				Description: "Reads a saved profile by id.",
				Parameters:  []catalog.Parameter{stringParam("id", "Profile id", true)},
				Behavior:    catalog.Behavior{ReadOnly: boolPtr(true)},
				Datacache:   profileCache,
			},
			fn: GetProfile,
		},
		{
			def: catalog.ToolDefinition{
				Name:        catalog.Name{Toolkit: Toolkit, Tool: "SearchProfiles"},
				Title:       "Search profiles",
				Description: "Finds saved profiles whose name contains the term, ignoring case.",
				Parameters:  []catalog.Parameter{stringParam("term", "Substring of the name", true)},
				Behavior:    catalog.Behavior{ReadOnly: boolPtr(true)},
				Datacache:   profileCache,
			},
			fn: SearchProfiles,
		},
	}

	for _, t := range tools {
		if err := cat.Add(t.def, t.fn); err != nil {
			return fmt.Errorf("register %s: %w", t.def.Name, err)
		}
	}
	return nil
}

// Echo returns args["message"].
func Echo(ctx context.Context, tc *catalog.ToolContext, args map[string]any) (any, error) {
	msg, ok := args["message"].(string)
	if !ok {
		return nil, toolerr.NewInvalidInput("message must be a string", nil)
	}
	return msg, nil
}

// SaveProfile upserts a profile row keyed by id.
func SaveProfile(ctx context.Context, tc *catalog.ToolContext, args map[string]any) (any, error) {
	cache, err := cacheOf(tc)
	if err != nil {
		return nil, err
	}
	row := map[string]any{"id": args["id"], "name": args["name"]}
	if email, ok := args["email"]; ok {
		row["email"] = email
	}
	return cache.Set(ctx, ProfilesTable, row, datacache.ColumnID)
}

// GetProfile returns one profile row.
func GetProfile(ctx context.Context, tc *catalog.ToolContext, args map[string]any) (any, error) {
	cache, err := cacheOf(tc)
	if err != nil {
		return nil, err
	}
	id, _ := args["id"].(string)
	return cache.Get(ctx, ProfilesTable, id)
}

// SearchProfiles returns profiles whose name matches term.
func SearchProfiles(ctx context.Context, tc *catalog.ToolContext, args map[string]any) (any, error) {
	cache, err := cacheOf(tc)
	if err != nil {
		return nil, err
	}
	term, _ := args["term"].(string)
	rows, err := cache.Search(ctx, ProfilesTable, "name", term)
	if err != nil {
		return nil, err
	}
	return map[string]any{"profiles": rows, "count": len(rows)}, nil
}

func cacheOf(tc *catalog.ToolContext) (catalog.Cache, error) {
	if tc == nil || tc.Cache == nil {
		return nil, toolerr.NewCacheUnavailable("datacache is not configured for this server", nil)
	}
	return tc.Cache, nil
}
