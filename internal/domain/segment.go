package domain

import (
	"fmt"
	"strings"
)

// Resolution is a coarse quality selector embedded in segment URLs.
type Resolution string

const (
	ResolutionLow   Resolution = "low"
	ResolutionHigh  Resolution = "high"
	ResolutionUltra Resolution = "ultra"
)

var resolutionCodes = map[Resolution]int{
	ResolutionLow:   1500,
	ResolutionHigh:  2500,
	ResolutionUltra: 4000,
}

// Legacy tier names accepted by ParseResolution.
var resolutionAliases = map[string]Resolution{
	"hd":      ResolutionLow,
	"fullhd":  ResolutionHigh,
	"ultrahd": ResolutionUltra,
}

// ParseResolution maps a tier name to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := resolutionAliases[name]; ok {
		return alias, nil
	}
	r := Resolution(name)
	if _, ok := resolutionCodes[r]; !ok {
		return "", NewDomainError(CodeInvalidResolution, ErrInvalidResolution.Message,
			fmt.Errorf("resolution %q", s), false)
	}
	return r, nil
}

// Code returns the numeric encoding used in segment URLs, or 0 for an
// unknown tier.
func (r Resolution) Code() int {
	return resolutionCodes[r]
}

// SegmentDescriptor identifies one segment of an asset. Index starts at 1 and
// defines the byte order of the assembled output.
type SegmentDescriptor struct {
	Index int
	URL   string
}

// SourceTemplate describes how segment URLs are built for a source:
// {BaseHost}/{assetID}/{Tag}{code}-{index:05d}.{Extension}
type SourceTemplate struct {
	BaseHost    string
	Tag         string
	Extension   string
	MaxSegments int
}

// DefaultSourceTemplate returns the template of the default CDN.
func DefaultSourceTemplate() SourceTemplate {
	return SourceTemplate{
		BaseHost:    "https://d13z5uuzt1wkbz.cloudfront.net",
		Tag:         "HIDDEN",
		Extension:   "ts",
		MaxSegments: 1000,
	}
}

// SegmentURL builds the URL of one segment.
func (t SourceTemplate) SegmentURL(assetID string, res Resolution, index int) string {
	return fmt.Sprintf("%s/%s/%s%d-%05d.%s",
		strings.TrimRight(t.BaseHost, "/"), assetID, t.Tag, res.Code(), index, t.Extension)
}

// Enumerate produces the candidate segment list for an asset. The length is an
// upper bound: the real segment count is discovered while fetching.
func (t SourceTemplate) Enumerate(assetID string, res Resolution) ([]SegmentDescriptor, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" || strings.ContainsAny(assetID, "/?#") {
		return nil, NewDomainError(CodeInvalidAssetID, ErrInvalidAssetID.Message,
			fmt.Errorf("asset id %q", assetID), false)
	}
	if res.Code() == 0 {
		return nil, NewDomainError(CodeInvalidResolution, ErrInvalidResolution.Message,
			fmt.Errorf("resolution %q", res), false)
	}

	segments := make([]SegmentDescriptor, 0, t.MaxSegments)
	for i := 1; i <= t.MaxSegments; i++ {
		segments = append(segments, SegmentDescriptor{
			Index: i,
			URL:   t.SegmentURL(assetID, res, i),
		})
	}
	return segments, nil
}
