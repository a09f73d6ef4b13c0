// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultGDCBaseURL = "https://api.gdc.cancer.gov"

// gdcClient is a minimal client for the NCI GDC REST API. It covers
// exactly the three requests the fetch stage needs: list files, list
// cases, download a file. Any HTTP or API error aborts the caller;
// there is no retry layer.
type gdcClient struct {
	BaseURL string
	Client  *http.Client
}

type gdcFilter struct {
	Op      string      `json:"op"`
	Content interface{} `json:"content"`
}

func gdcIn(field string, values ...string) gdcFilter {
	return gdcFilter{Op: "in", Content: map[string]interface{}{
		"field": field,
		"value": values,
	}}
}

func gdcAnd(filters ...gdcFilter) gdcFilter {
	return gdcFilter{Op: "and", Content: filters}
}

type gdcFile struct {
	ID    string `json:"file_id"`
	Name  string `json:"file_name"`
	Size  int64  `json:"file_size"`
	MD5   string `json:"md5sum"`
	Cases []struct {
		SubmitterID string `json:"submitter_id"`
	} `json:"cases"`
}

type gdcCase struct {
	SubmitterID string `json:"submitter_id"`
	Demographic struct {
		Race        string `json:"race"`
		Ethnicity   string `json:"ethnicity"`
		VitalStatus string `json:"vital_status"`
		DaysToDeath int    `json:"days_to_death"`
	} `json:"demographic"`
	Diagnoses []struct {
		AgeAtDiagnosisDays int    `json:"age_at_diagnosis"`
		FigoStage          string `json:"figo_stage"`
		DaysToLastFollowUp int    `json:"days_to_last_follow_up"`
	} `json:"diagnoses"`
}

type gdcPage struct {
	Pagination struct {
		Count int `json:"count"`
		Total int `json:"total"`
		From  int `json:"from"`
	} `json:"pagination"`
}

func (c *gdcClient) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("GDC %s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Files returns all file records matching the given filter,
// paginating until the reported total is reached.
func (c *gdcClient) Files(ctx context.Context, filter gdcFilter, fields []string) ([]gdcFile, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}
	var all []gdcFile
	for from := 0; ; {
		params := url.Values{
			"filters": {string(filterJSON)},
			"fields":  {strings.Join(fields, ",")},
			"format":  {"JSON"},
			"size":    {"500"},
			"from":    {fmt.Sprintf("%d", from)},
		}
		var page struct {
			Data struct {
				Hits []gdcFile `json:"hits"`
				gdcPage
			} `json:"data"`
		}
		err = c.get(ctx, "/files", params, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data.Hits...)
		from += page.Data.Pagination.Count
		if page.Data.Pagination.Count == 0 || from >= page.Data.Pagination.Total {
			return all, nil
		}
	}
}

// Cases returns all case records matching the given filter, with
// demographic and diagnosis fields expanded.
func (c *gdcClient) Cases(ctx context.Context, filter gdcFilter) ([]gdcCase, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}
	var all []gdcCase
	for from := 0; ; {
		params := url.Values{
			"filters": {string(filterJSON)},
			"expand":  {"demographic,diagnoses"},
			"format":  {"JSON"},
			"size":    {"500"},
			"from":    {fmt.Sprintf("%d", from)},
		}
		var page struct {
			Data struct {
				Hits []gdcCase `json:"hits"`
				gdcPage
			} `json:"data"`
		}
		err = c.get(ctx, "/cases", params, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data.Hits...)
		from += page.Data.Pagination.Count
		if page.Data.Pagination.Count == 0 || from >= page.Data.Pagination.Total {
			return all, nil
		}
	}
}

// Download copies the content of the identified file to w.
func (c *gdcClient) Download(ctx context.Context, fileID string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/data/"+fileID, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GDC /data/%s: %s", fileID, resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
