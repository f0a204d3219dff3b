// Copyright (c) 2026 John Earle
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

package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bcem/tracker/internal/models"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 4 << 20

// openInput opens path, or stdin for "-".
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// readEmails parses one email record per line. Blank lines are ignored.
func readEmails(r io.Reader) ([]models.EmailRecord, error) {
	var emails []models.EmailRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e models.EmailRecord
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		emails = append(emails, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading emails: %w", err)
	}
	return emails, nil
}

// readMerges parses a JSON array of merge requests.
func readMerges(r io.Reader) ([]models.MergeRequest, error) {
	var merges []models.MergeRequest
	if err := json.NewDecoder(r).Decode(&merges); err != nil {
		return nil, fmt.Errorf("decoding merges: %w", err)
	}
	return merges, nil
}
