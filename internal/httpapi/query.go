// Copyright 2024 Andres Morey
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

package httpapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronobase/dataprovider/internal/config"
	"github.com/chronobase/dataprovider/internal/model"
)

// filterKinds is the closed set of predicate kinds a request may filter
// on, each one's query parameter name equal to its own string value.
var filterKinds = []model.FilterKind{
	model.FilterEventText,
	model.FilterAttachedMessageId,
	model.FilterAttachedEventId,
	model.FilterMessageType,
	model.FilterBodyText,
	model.FilterBodyBinary,
	model.FilterParentEvent,
	model.FilterAttachedEventIds,
}

// parseEventSearchRequest builds a model.SearchRequest for /search/events
// from its query parameters.
func parseEventSearchRequest(c *gin.Context, cfg *config.Config) (*model.SearchRequest, error) {
	req, err := parseCommon(c, cfg)
	if err != nil {
		return nil, err
	}

	if resume := c.Query("resumeFromId"); resume != "" {
		id := model.ParseProviderEventId(resume)
		req.ResumeFromId = &model.ResumeId{Event: &id}
	}

	if parent := c.Query("parentEvent"); parent != "" {
		id := model.ParseProviderEventId(parent)
		req.ParentEvent = &id
	}

	limitForParent, err := parseInt(c, "limitForParent", 0)
	if err != nil {
		return nil, err
	}
	req.LimitForParent = limitForParent

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// parseMessageSearchRequest builds a model.SearchRequest for
// /search/messages, additionally parsing the repeatable "stream"
// parameter and a message-shaped resumeFromId.
func parseMessageSearchRequest(c *gin.Context, cfg *config.Config) (*model.SearchRequest, error) {
	req, err := parseCommon(c, cfg)
	if err != nil {
		return nil, err
	}

	for _, s := range c.QueryArray("stream") {
		key, err := parseStreamKey(s)
		if err != nil {
			return nil, err
		}
		req.Streams = append(req.Streams, key)
	}
	if len(req.Streams) == 0 {
		return nil, fmt.Errorf("at least one stream parameter is required")
	}

	if resume := c.Query("resumeFromId"); resume != "" {
		id, err := model.ParseMessageId(resume)
		if err != nil {
			return nil, fmt.Errorf("invalid resumeFromId: %w", err)
		}
		req.ResumeFromId = &model.ResumeId{Message: &id}
	}

	req.AttachedMessages = parseBool(c, "attachedMessages")

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// parseCommon parses the query parameters shared by both search
// endpoints.
func parseCommon(c *gin.Context, cfg *config.Config) (*model.SearchRequest, error) {
	dir, err := model.ParseSearchDirection(c.Query("searchDirection"))
	if err != nil {
		return nil, err
	}

	start, err := parseTimestamp(c, "startTimestamp")
	if err != nil {
		return nil, err
	}
	end, err := parseTimestamp(c, "endTimestamp")
	if err != nil {
		return nil, err
	}

	resultCountLimit, err := parseInt(c, "resultCountLimit", 0)
	if err != nil {
		return nil, err
	}

	var lookupLimitDays *int
	if s := c.Query("lookupLimitDays"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid lookupLimitDays: %w", err)
		}
		lookupLimitDays = &n
	} else {
		lookupLimitDays = &cfg.Search.LookupLimitDays
	}

	filters, err := parseFilters(c)
	if err != nil {
		return nil, err
	}

	req := &model.SearchRequest{
		Direction:        dir,
		StartTimestamp:   start,
		EndTimestamp:     end,
		Filters:          filters,
		KeepOpen:         parseBool(c, "keepOpen"),
		MetadataOnly:     parseBool(c, "metadataOnly"),
		LookupLimitDays:  lookupLimitDays,
		ResultCountLimit: resultCountLimit,
	}
	return req, nil
}

// parseFilters builds the {name}-negative/{name}-conjunct/{name}-values
// triples from the query string into model.FilterSpecs, one per kind
// that supplied at least one value.
func parseFilters(c *gin.Context) ([]model.FilterSpec, error) {
	var specs []model.FilterSpec
	for _, kind := range filterKinds {
		values := queryValues(c, string(kind)+"-values")
		if len(values) == 0 {
			continue
		}
		specs = append(specs, model.FilterSpec{
			Kind:     kind,
			Negative: parseBool(c, string(kind)+"-negative"),
			Conjunct: parseBool(c, string(kind)+"-conjunct"),
			Values:   values,
		})
	}
	return specs, nil
}

// queryValues accepts either a repeated query parameter or a single
// comma-separated one.
func queryValues(c *gin.Context, name string) []string {
	values := c.QueryArray(name)
	if len(values) == 1 && strings.Contains(values[0], ",") {
		return strings.Split(values[0], ",")
	}
	return values
}

func parseTimestamp(c *gin.Context, name string) (*time.Time, error) {
	s := c.Query(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &t, nil
}

func parseBool(c *gin.Context, name string) bool {
	b, _ := strconv.ParseBool(c.Query(name))
	return b
}

func parseInt(c *gin.Context, name string, def int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

// parseStreamKey parses the "name:direction" wire form used by the
// repeatable "stream" query parameter.
func parseStreamKey(s string) (model.StreamKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return model.StreamKey{}, fmt.Errorf("invalid stream %q, expected name:direction", s)
	}
	dir, err := model.ParseDirection(parts[1])
	if err != nil {
		return model.StreamKey{}, err
	}
	return model.StreamKey{Name: parts[0], Direction: dir}, nil
}
