package megacmd

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/italolelis/mega_downloader/internal/remote"
)

// lsLine matches one entry of "mega-ls -lr": flags, version, size, date, time, name.
var lsLine = regexp.MustCompile(`^(\S{4})\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s(.+)$`)

// parseListing turns the output of "mega-ls -lr <root>" into file entries. Each entry's
// ID is its absolute remote path and its Path is relative to root.
func parseListing(out string, root string) ([]*remote.Entry, error) {
	root = path.Clean("/" + root)
	dir := root

	var entries []*remote.Entry

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := lsLine.FindStringSubmatch(line)
		if m == nil {
			if strings.HasSuffix(line, ":") {
				dir = strings.TrimSuffix(line, ":")
				if !path.IsAbs(dir) {
					dir = path.Join(root, dir)
				}
			}

			// column headers and anything else unrecognized
			continue
		}

		if strings.HasPrefix(m[1], "d") {
			continue
		}

		size, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q for %s", m[3], m[6])
		}

		id := path.Join(dir, m[6])

		rel := strings.TrimPrefix(id, strings.TrimSuffix(root, "/")+"/")
		if rel == id && root != "/" {
			return nil, fmt.Errorf("entry %s is outside of %s", id, root)
		}

		entries = append(entries, &remote.Entry{ID: id, Path: rel, Size: size})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
