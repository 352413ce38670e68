// Package merger fuses transcriber sub-segments and diarizer speaker turns
// into a single ordered, speaker-attributed timeline.
package merger

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
)

const unknownSpeaker = "unknown"

// Merge fuses transcribed chunks and speaker turns (both carrying local or
// global times per their package docs — chunks supplies the global offset
// for each transcribed chunk's sub-segments) into one ordered timeline.
func Merge(chunks []model.AudioChunk, transcribed []model.TranscribedChunk, turns []model.SpeakerTurn, cfg config.MergerSettings) model.MergedTranscription {
	chunkStart := make(map[string]float64, len(chunks))
	var totalDuration float64
	for _, c := range chunks {
		chunkStart[c.ID] = c.StartSec
		if c.EndSec > totalDuration {
			totalDuration = c.EndSec
		}
	}

	raw := collectGlobalSegments(transcribed, chunkStart)
	assignSpeakers(raw, turns, overlapRatio(cfg))

	cleaned := make([]rawSegment, 0, len(raw))
	for _, seg := range raw {
		seg.text = cleanText(seg.text)
		// confidence is a mean log-probability; MinConfidence is a probability.
		if seg.end-seg.start < minSegmentDuration(cfg) || math.Exp(seg.confidence) < cfg.MinConfidence {
			continue
		}
		if seg.text == "" {
			continue
		}
		cleaned = append(cleaned, seg)
	}

	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i].start < cleaned[j].start })

	merged := mergeAdjacent(cleaned, adjacentGap(cfg))
	resolved := resolveOverlaps(merged, overlapThreshold(cfg))

	speakerSet := map[string]struct{}{}
	segments := make([]model.MergedSegment, 0, len(resolved))
	for i, seg := range resolved {
		speakerSet[seg.speaker] = struct{}{}
		segments = append(segments, model.MergedSegment{
			Index:           i,
			GlobalSpeakerID: seg.speaker,
			StartSec:        seg.start,
			EndSec:          seg.end,
			Text:            seg.text,
			Confidence:      seg.confidence,
			ChunkID:         seg.chunkID,
			IsOverlap:       seg.isOverlap,
			OverlapSpeakers: seg.overlapSpeakers,
		})
	}

	speakerIDs := make([]string, 0, len(speakerSet))
	for id := range speakerSet {
		speakerIDs = append(speakerIDs, id)
	}
	sort.Strings(speakerIDs)

	return model.MergedTranscription{
		Language:      majorityLanguage(transcribed),
		TotalDuration: totalDuration,
		SpeakerIDs:    speakerIDs,
		Segments:      segments,
	}
}

// majorityLanguage returns the most common non-empty Language value among
// successfully transcribed chunks, breaking ties by first occurrence.
func majorityLanguage(transcribed []model.TranscribedChunk) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, tc := range transcribed {
		if tc.Err != "" || tc.Language == "" {
			continue
		}
		if counts[tc.Language] == 0 {
			order = append(order, tc.Language)
		}
		counts[tc.Language]++
	}

	best := ""
	bestCount := 0
	for _, lang := range order {
		if counts[lang] > bestCount {
			best = lang
			bestCount = counts[lang]
		}
	}
	return best
}

type rawSegment struct {
	chunkID         string
	start, end      float64
	text            string
	confidence      float64
	speaker         string
	isOverlap       bool
	overlapSpeakers []string
}

func collectGlobalSegments(transcribed []model.TranscribedChunk, chunkStart map[string]float64) []rawSegment {
	var out []rawSegment
	for _, tc := range transcribed {
		if tc.Err != "" {
			continue
		}
		offset := chunkStart[tc.ChunkID]
		if len(tc.SubSegments) == 0 && tc.Text != "" {
			out = append(out, rawSegment{chunkID: tc.ChunkID, start: offset, end: offset, text: tc.Text, confidence: tc.Confidence})
			continue
		}
		for _, sub := range tc.SubSegments {
			out = append(out, rawSegment{
				chunkID:    tc.ChunkID,
				start:      offset + sub.StartSec,
				end:        offset + sub.EndSec,
				text:       sub.Text,
				confidence: tc.Confidence,
			})
		}
	}
	return out
}

// assignSpeakers attaches the global speaker id of the turn with the
// greatest overlap ratio to each segment, provided that ratio meets
// minRatio; otherwise the sentinel "unknown" speaker is assigned.
func assignSpeakers(segments []rawSegment, turns []model.SpeakerTurn, minRatio float64) {
	for i := range segments {
		seg := segments[i]
		duration := seg.end - seg.start
		if duration <= 0 {
			segments[i].speaker = unknownSpeaker
			continue
		}

		bestRatio := 0.0
		bestSpeaker := unknownSpeaker
		for _, t := range turns {
			overlap := overlapSeconds(seg.start, seg.end, t.StartSec, t.EndSec)
			if overlap <= 0 {
				continue
			}
			ratio := overlap / duration
			if ratio > bestRatio {
				bestRatio = ratio
				bestSpeaker = t.GlobalSpeakerID
			}
		}

		if bestRatio >= minRatio {
			segments[i].speaker = bestSpeaker
		} else {
			segments[i].speaker = unknownSpeaker
		}
	}
}

func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

// mergeAdjacent concatenates consecutive segments sharing a speaker id when
// the gap between them is within maxGap.
func mergeAdjacent(segments []rawSegment, maxGap float64) []rawSegment {
	if len(segments) == 0 {
		return segments
	}

	out := make([]rawSegment, 0, len(segments))
	cur := segments[0]
	for _, next := range segments[1:] {
		if next.speaker == cur.speaker && next.start-cur.end <= maxGap {
			cur.end = next.end
			cur.text = cur.text + " " + next.text
			if next.confidence < cur.confidence {
				cur.confidence = next.confidence
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// resolveOverlaps walks the sorted list resolving residual overlaps: large
// overlaps are marked and split at the midpoint, small ones are resolved by
// shifting the later segment's start forward.
func resolveOverlaps(segments []rawSegment, threshold float64) []rawSegment {
	for i := 0; i < len(segments)-1; i++ {
		cur := &segments[i]
		next := &segments[i+1]

		overlap := cur.end - next.start
		if overlap <= 0 {
			continue
		}

		if overlap > threshold {
			mid := (cur.end + next.start) / 2
			cur.isOverlap = true
			next.isOverlap = true
			cur.overlapSpeakers = appendUnique(cur.overlapSpeakers, cur.speaker, next.speaker)
			next.overlapSpeakers = appendUnique(next.overlapSpeakers, cur.speaker, next.speaker)
			cur.end = mid
			next.start = mid
		} else {
			next.start = cur.end
		}
	}
	return segments
}

func appendUnique(existing []string, items ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	out := append([]string{}, existing...)
	for _, it := range items {
		if _, ok := seen[it]; !ok {
			seen[it] = struct{}{}
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

var (
	whitespacePattern     = regexp.MustCompile(`\s+`)
	repeatedPunctPattern  = regexp.MustCompile(`([!?.,;:])\1+`)
	nonLinguisticGlyphPat = regexp.MustCompile(`[^\p{L}\p{N}\s.,!?;:'"-]`)
)

// cleanText collapses whitespace, normalizes repeated punctuation, strips
// non-linguistic glyphs (preserving accented letters), and capitalizes the
// first letter.
func cleanText(text string) string {
	t := nonLinguisticGlyphPat.ReplaceAllString(text, "")
	t = repeatedPunctPattern.ReplaceAllString(t, "$1")
	t = whitespacePattern.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)
	if t == "" {
		return t
	}
	runes := []rune(t)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func minSegmentDuration(cfg config.MergerSettings) float64 {
	if cfg.MinSegmentDurationSec <= 0 {
		return 0.5
	}
	return cfg.MinSegmentDurationSec
}

func adjacentGap(cfg config.MergerSettings) float64 {
	if cfg.AdjacentMergeGapSec <= 0 {
		return 2.0
	}
	return cfg.AdjacentMergeGapSec
}

func overlapThreshold(cfg config.MergerSettings) float64 {
	if cfg.OverlapThresholdSec <= 0 {
		return 0.5
	}
	return cfg.OverlapThresholdSec
}

func overlapRatio(cfg config.MergerSettings) float64 {
	if cfg.SpeakerOverlapRatio <= 0 {
		return 0.3
	}
	return cfg.SpeakerOverlapRatio
}
