package debugcapture

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// Pattern groups failures with the same error text
type Pattern struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Summary aggregates the captured requests of one job
type Summary struct {
	JobID               string      `json:"job_id"`
	TotalRequests       int         `json:"total_requests"`
	Successful          int         `json:"successful"`
	Failed              int         `json:"failed"`
	SuccessRate         float64     `json:"success_rate"`
	StatusCodeHistogram map[int]int `json:"status_code_histogram"`
	FailurePatterns     []Pattern   `json:"failure_patterns"`
	Recommendations     []string    `json:"recommendations"`
}

// Summary builds the summary of a job's captured requests
func (c *Capture) Summary(jobID string) (*Summary, error) {
	entries, err := c.jobEntries(jobID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("debug data of job %s: %w", jobID, domain.ErrNotFound)
	}
	return Summarize(jobID, entries), nil
}

// Summarize aggregates entries
func Summarize(jobID string, entries []Entry) *Summary {
	s := &Summary{
		JobID:               jobID,
		TotalRequests:       len(entries),
		StatusCodeHistogram: make(map[int]int),
		FailurePatterns:     []Pattern{},
	}

	patterns := make(map[string]int)
	for _, e := range entries {
		s.StatusCodeHistogram[e.StatusCode]++
		if e.StatusCode >= 200 && e.StatusCode < 300 {
			s.Successful++
			continue
		}
		s.Failed++
		patterns[patternKey(e)]++
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = domain.Percentage(s.Successful, s.TotalRequests)
	}

	for msg, n := range patterns {
		s.FailurePatterns = append(s.FailurePatterns, Pattern{Message: msg, Count: n})
	}
	sort.Slice(s.FailurePatterns, func(i, j int) bool {
		if s.FailurePatterns[i].Count != s.FailurePatterns[j].Count {
			return s.FailurePatterns[i].Count > s.FailurePatterns[j].Count
		}
		return s.FailurePatterns[i].Message < s.FailurePatterns[j].Message
	})

	s.Recommendations = recommend(s)
	return s
}

func patternKey(e Entry) string {
	msg := strings.TrimSpace(e.ErrorBody)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 80 {
		msg = msg[:80]
	}
	if e.StatusCode == 0 {
		return "no response: " + msg
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, msg)
}

// recommend derives hints from the status code histogram
func recommend(s *Summary) []string {
	if s.Failed == 0 {
		return []string{"all requests succeeded, no action needed"}
	}

	var transport, client, server, auth, notFound int
	for code, n := range s.StatusCodeHistogram {
		switch {
		case code == 0:
			transport += n
		case code == 401 || code == 403:
			auth += n
			client += n
		case code == 404:
			notFound += n
			client += n
		case code >= 400 && code < 500:
			client += n
		case code >= 500:
			server += n
		}
	}

	var recs []string
	dominant := func(n int) bool { return n*2 >= s.Failed }
	if dominant(transport) {
		recs = append(recs, "most failures got no response; check the engine URL and raise the request timeout")
	}
	if dominant(server) {
		recs = append(recs, "the engine is failing with 5xx errors; check its logs and capacity, then restart the job")
	}
	if dominant(client) {
		switch {
		case dominant(auth):
			recs = append(recs, "the engine rejects the credentials; check the engine token")
		case dominant(notFound):
			recs = append(recs, "the engine does not know these items; refresh the library before retrying")
		default:
			recs = append(recs, "the engine rejects the requests; check the configured badge types")
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "failures are mixed; inspect the failure patterns")
	}
	if s.SuccessRate < 50 {
		recs = append(recs, "success rate is below 50%; consider pausing the job until the engine is fixed")
	}
	return recs
}
