package mirrorup

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// ServerLine renders the mirror as a pacman mirrorlist directive.
func (m *RankedMirror) ServerLine() string {
	return fmt.Sprintf("Server = %s$repo/os/$arch", m.URL)
}

// MirrorlistHeader renders the comment block written before the server
// directives.
func MirrorlistHeader(sourceURL string, now time.Time) string {
	return fmt.Sprintf(`#
# /etc/pacman.d/mirrorlist
#
#
# Arch Linux mirrorlist generated by pacman-mirrorup
#
# pacman-mirrorup: https://github.com/bpetlert/pacman-mirrorup
# source: %s
# when: %s
#

`, sourceURL, now.Format(time.RFC1123Z))
}

// WriteMirrorlist writes the ranked mirrors in pacman mirrorlist format.
func WriteMirrorlist(w io.Writer, mirrors []RankedMirror, sourceURL string, now time.Time) error {
	buffered := bufio.NewWriter(w)
	if _, err := buffered.WriteString(MirrorlistHeader(sourceURL, now)); err != nil {
		return errors.Wrap(err, "write mirrorlist header")
	}
	for i := range mirrors {
		if _, err := fmt.Fprintln(buffered, mirrors[i].ServerLine()); err != nil {
			return errors.Wrap(err, "write mirrorlist entry")
		}
	}
	return errors.Wrap(buffered.Flush(), "flush mirrorlist")
}

// WriteStats writes one CSV row per probed candidate, successful probes
// first in ranking order, failed probes after in URL order.
func WriteStats(w io.Writer, candidates []Candidate, probes map[string]*ProbeResult) error {
	rows := make([]Candidate, len(candidates))
	copy(rows, candidates)
	sort.Slice(rows, func(i, j int) bool {
		pi, pj := probes[rows[i].URL], probes[rows[j].URL]
		oki := pi != nil && pi.OK && pi.Rate > 0
		okj := pj != nil && pj.OK && pj.Rate > 0
		if oki != okj {
			return oki
		}
		if oki && okj {
			ri, rj := rows[i].Score/pi.Rate, rows[j].Score/pj.Rate
			if ri != rj {
				return ri < rj
			}
		}
		return rows[i].URL < rows[j].URL
	})

	writer := csv.NewWriter(w)
	header := []string{
		"url",
		"country",
		"country_code",
		"score",
		"outcome",
		"elapsed_ms",
		"bytes",
		"transfer_rate",
		"smoothed_rate",
		"ranking",
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "write stats header")
	}

	for i := range rows {
		record := []string{
			rows[i].URL,
			rows[i].Country,
			rows[i].CountryCode,
			formatFloat(rows[i].Score),
			"failed",
			"",
			"",
			"",
			"",
			"",
		}
		if probe := probes[rows[i].URL]; probe != nil && probe.OK {
			record[4] = "ok"
			record[5] = formatFloat(float64(probe.Elapsed.Milliseconds()))
			record[6] = strconv.FormatInt(probe.Bytes, 10)
			record[7] = formatFloat(probe.Rate)
			record[8] = formatFloat(probe.SmoothedRate)
			if probe.Rate > 0 {
				record[9] = formatFloat(rows[i].Score / probe.Rate)
			}
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "write stats row")
		}
	}

	writer.Flush()
	return errors.Wrap(writer.Error(), "flush stats")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
