package metascan

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"kloak/internal/media/bmff"
)

const scopeContainer = "container"

func trackScope(id uint32) string {
	return "track " + strconv.FormatUint(uint64(id), 10)
}

func scanMovie(data []byte, report *Report) error {
	boxes, err := bmff.Parse(data)
	if err != nil {
		return err
	}
	for _, b := range boxes {
		switch b.Type {
		case "udta":
			addUserData(data, report, scopeContainer, b)
		case "meta":
			addMeta(data, report, scopeContainer, b)
		case "uuid":
			report.add(scopeContainer, "uuid:"+fmt.Sprintf("%x", b.UserType), fmt.Sprintf("%d bytes", b.Size), false)
		}
	}

	moov := bmff.Top(boxes, "moov")
	if moov == nil {
		return fmt.Errorf("%w: no moov box", bmff.ErrMalformed)
	}
	movie, err := bmff.SummarizeMovie(data, moov)
	if err != nil {
		return err
	}
	addTimes(report, scopeContainer, movie.CreationTime, movie.ModificationTime)
	report.add(scopeContainer, "timescale", strconv.FormatUint(uint64(movie.Timescale), 10), true)
	report.add(scopeContainer, "duration", strconv.FormatUint(movie.Duration, 10), true)

	for _, b := range moov.Children {
		switch b.Type {
		case "udta":
			addUserData(data, report, scopeContainer, b)
		case "meta":
			addMeta(data, report, scopeContainer, b)
		case "uuid":
			report.add(scopeContainer, "uuid:"+fmt.Sprintf("%x", b.UserType), fmt.Sprintf("%d bytes", b.Size), false)
		}
	}

	for _, track := range movie.Tracks {
		scope := trackScope(track.ID)
		if track.IsTimedMetadata() {
			report.add(scope, "timed_metadata", track.Handler, false)
		}
		addTimes(report, scope, track.CreationTime, track.ModificationTime)
		report.add(scope, "handler", track.Handler, true)
		report.add(scope, "duration", strconv.FormatUint(track.Duration, 10), true)
		track.Box.Walk(func(b *bmff.Box) bool {
			switch b.Type {
			case "udta":
				addUserData(data, report, scope, b)
				return false
			case "meta":
				addMeta(data, report, scope, b)
				return false
			case "uuid":
				report.add(scope, "uuid:"+fmt.Sprintf("%x", b.UserType), fmt.Sprintf("%d bytes", b.Size), false)
				return false
			}
			return true
		})
	}
	return scanFragments(data, report, boxes, moov, movie)
}

// scanFragments reports timed-metadata samples and user data carried in
// movie fragments, plus fragments of tracks the movie no longer declares.
func scanFragments(data []byte, report *Report, boxes []*bmff.Box, moov *bmff.Box, movie bmff.Movie) error {
	tracks := make(map[uint32]bmff.Track, len(movie.Tracks))
	for _, track := range movie.Tracks {
		tracks[track.ID] = track
	}
	defaults := bmff.TrackExtends(data, moov)
	for _, moof := range boxes {
		if moof.Type != "moof" {
			continue
		}
		frags, err := bmff.FragmentRanges(data, moof, defaults)
		if err != nil {
			return err
		}
		for _, frag := range frags {
			var size int64
			for _, r := range frag.Samples {
				size += r.Length
			}
			track, ok := tracks[frag.TrackID]
			switch {
			case !ok:
				report.add(trackScope(frag.TrackID), "orphan_fragment", fmt.Sprintf("%d bytes", size), false)
			case track.IsTimedMetadata():
				report.add(trackScope(frag.TrackID), "timed_metadata_fragment", fmt.Sprintf("%d bytes", size), false)
			}
		}
		moof.Walk(func(b *bmff.Box) bool {
			switch b.Type {
			case "udta":
				addUserData(data, report, scopeContainer, b)
				return false
			case "meta":
				addMeta(data, report, scopeContainer, b)
				return false
			case "uuid":
				report.add(scopeContainer, "uuid:"+fmt.Sprintf("%x", b.UserType), fmt.Sprintf("%d bytes", b.Size), false)
				return false
			}
			return true
		})
	}
	return nil
}

func addTimes(report *Report, scope string, creation, modification uint64) {
	if creation != 0 {
		report.add(scope, "creation_time", strconv.FormatUint(creation, 10), false)
	}
	if modification != 0 {
		report.add(scope, "modification_time", strconv.FormatUint(modification, 10), false)
	}
}

func addUserData(data []byte, report *Report, scope string, udta *bmff.Box) {
	if len(udta.Children) == 0 {
		if udta.Size > int64(udta.HeaderSize)+4 {
			report.add(scope, "udta", fmt.Sprintf("%d bytes", udta.Size), false)
		}
		return
	}
	for _, child := range udta.Children {
		if child.Type == "meta" {
			addMeta(data, report, scope, child)
			continue
		}
		report.add(scope, printableType(child.Type), userDataText(child.Payload(data)), false)
	}
}

func addMeta(data []byte, report *Report, scope string, meta *bmff.Box) {
	var keys []string
	if kb := meta.Child("keys"); kb != nil {
		keys = readKeys(kb.Payload(data))
	}
	ilst := meta.Child("ilst")
	switch {
	case len(keys) > 0:
		values := map[int]string{}
		if ilst != nil {
			for _, item := range ilst.Children {
				idx := int(binary.BigEndian.Uint32([]byte(item.Type)))
				values[idx] = ilstValue(data, item)
			}
		}
		for i, key := range keys {
			report.add(scope, key, values[i+1], false)
		}
	case ilst != nil && len(ilst.Children) > 0:
		for _, item := range ilst.Children {
			report.add(scope, printableType(item.Type), ilstValue(data, item), false)
		}
	case meta.Size > int64(meta.HeaderSize)+4:
		report.add(scope, "meta", fmt.Sprintf("%d bytes", meta.Size), false)
	}
}

func readKeys(payload []byte) []string {
	if len(payload) < 8 {
		return nil
	}
	count := int(binary.BigEndian.Uint32(payload[4:]))
	p := payload[8:]
	var keys []string
	for i := 0; i < count && len(p) >= 8; i++ {
		size := int(binary.BigEndian.Uint32(p))
		if size < 8 || size > len(p) {
			break
		}
		keys = append(keys, string(p[8:size]))
		p = p[size:]
	}
	return keys
}

func ilstValue(data []byte, item *bmff.Box) string {
	p := item.Payload(data)
	for len(p) >= 16 {
		size := int(binary.BigEndian.Uint32(p))
		if size < 16 || size > len(p) {
			return ""
		}
		if string(p[4:8]) == "data" {
			return sanitize(p[16:size])
		}
		p = p[size:]
	}
	return ""
}

// userDataText decodes QuickTime international text (length, language, text)
// and falls back to a byte count for binary payloads.
func userDataText(p []byte) string {
	if len(p) >= 4 {
		n := int(binary.BigEndian.Uint16(p))
		if n > 0 && 4+n <= len(p) && utf8.Valid(p[4:4+n]) {
			return sanitize(p[4 : 4+n])
		}
	}
	return fmt.Sprintf("%d bytes", len(p))
}

func sanitize(p []byte) string {
	if !utf8.Valid(p) {
		return fmt.Sprintf("%d bytes", len(p))
	}
	return strings.TrimRight(string(p), "\x00")
}

func printableType(typ string) string {
	if strings.HasPrefix(typ, "\xa9") {
		return "©" + typ[1:]
	}
	return typ
}
