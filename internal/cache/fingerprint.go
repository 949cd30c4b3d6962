// Package cache derives job fingerprints and finds earlier artifacts that can
// satisfy an identical request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

// fingerprintVersion is mixed into every hash so a change in canonical form
// never matches artifacts fingerprinted under the old one.
const fingerprintVersion = "v1"

// Fingerprint hashes the job type, input URLs and parameters into a stable
// hex digest. Input order is ignored except for job types whose inputs are
// positional (swap-face: source, then target). Parameter key order never
// matters.
func Fingerprint(job *domain.Job) string {
	return hex.EncodeToString(sha256Sum(Canonical(job)))
}

// Canonical returns the string Fingerprint hashes.
func Canonical(job *domain.Job) string {
	if job == nil {
		return fingerprintVersion
	}
	urls := make([]string, 0, len(job.InputURLs))
	for _, u := range job.InputURLs {
		urls = append(urls, norm.NFC.String(strings.TrimSpace(u)))
	}
	if !positionalInputs(job.Type) {
		sort.Strings(urls)
	}
	var b strings.Builder
	b.WriteString(fingerprintVersion)
	b.WriteByte('\n')
	b.WriteString(string(job.Type))
	b.WriteByte('\n')
	b.WriteString(strings.Join(urls, "\n"))
	b.WriteByte('\n')
	b.WriteString(canonicalParams(job.Params))
	return b.String()
}

func positionalInputs(t domain.JobType) bool {
	return t == domain.JobTypeSwapFace
}

// canonicalParams encodes params as JSON. encoding/json writes map keys in
// sorted order at every depth.
func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(normalizeValue(params))
	if err != nil {
		// unencodable values still fingerprint deterministically by key set
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, norm.NFC.String(k))
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}
	return string(raw)
}

func normalizeValue(v any) any {
	switch node := v.(type) {
	case string:
		return norm.NFC.String(node)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[norm.NFC.String(k)] = normalizeValue(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = normalizeValue(child)
		}
		return out
	default:
		return node
	}
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
