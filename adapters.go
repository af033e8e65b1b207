/*
Copyright 2024 Flowlane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowlane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flowlane/flowlane/model"
)

// HTTPTriggerKey is the trigger key the generic HTTP adapter registers under.
const HTTPTriggerKey = "http.poll"

// httpPollResponse is the wire shape the generic HTTP adapter expects from
// the polled endpoint.
type httpPollResponse struct {
	Events []struct {
		ID       string                 `json:"id"`
		Payload  map[string]interface{} `json:"payload"`
		MetaData map[string]interface{} `json:"meta_data,omitempty"`
	} `json:"events"`
	Cursor map[string]interface{} `json:"cursor,omitempty"`
}

// HTTPSourceAdapter polls a JSON endpoint declared in the task source's
// resource config. The endpoint receives the stored cursor as a query
// parameter and returns events plus the next cursor.
type HTTPSourceAdapter struct {
	Client *http.Client
}

func NewHTTPSourceAdapter() *HTTPSourceAdapter {
	return &HTTPSourceAdapter{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *HTTPSourceAdapter) Poll(ctx context.Context, source *model.TaskSource) (*PollResult, error) {
	rawURL, ok := source.ResourceConfig["url"].(string)
	if !ok || rawURL == "" {
		return nil, errors.New("resource config is missing the url to poll")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if since, ok := source.Cursor["since"].(string); ok && since != "" {
		q := req.URL.Query()
		q.Set("since", since)
		req.URL.RawQuery = q.Encode()
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("endpoint rejected credentials with status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var response httpPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	result := &PollResult{Cursor: response.Cursor}
	if result.Cursor == nil {
		result.Cursor = source.Cursor
	}
	for _, e := range response.Events {
		result.Events = append(result.Events, model.InboxEvent{
			ExternalEventID: e.ID,
			Payload:         e.Payload,
			MetaData:        e.MetaData,
		})
	}
	return result, nil
}
