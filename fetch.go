// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// manifestEntry records one verified download so a re-run can skip
// it. Blake2b is the hex blake2b-256 of the file as stored on disk.
type manifestEntry struct {
	FileID  string
	Name    string
	CaseID  string
	Size    int64
	Blake2b string
}

type manifest struct {
	Project string
	Files   []manifestEntry
}

func readManifest(dir string) (*manifest, error) {
	buf, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if os.IsNotExist(err) {
		return &manifest{}, nil
	} else if err != nil {
		return nil, err
	}
	var m manifest
	err = json.Unmarshal(buf, &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest.json: %w", err)
	}
	return &m, nil
}

func (m *manifest) write(dir string) error {
	buf, err := json.MarshalIndent(m, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), buf, 0666)
}

func (m *manifest) entry(fileID string) *manifestEntry {
	for i := range m.Files {
		if m.Files[i].FileID == fileID {
			return &m.Files[i]
		}
	}
	return nil
}

type fetcher struct {
	dir      string
	project  string
	apiURL   string
	threads  int
	maxFiles int
}

func (cmd *fetcher) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.dir, "dir", "", "download `directory`")
	flags.StringVar(&cmd.project, "project", "TCGA-OV", "GDC project `ID`")
	flags.StringVar(&cmd.apiURL, "api", defaultGDCBaseURL, "GDC API base `URL`")
	flags.IntVar(&cmd.threads, "threads", 4, "max concurrent downloads")
	flags.IntVar(&cmd.maxFiles, "max-files", 0, "download at most `N` count files (0 = all)")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.dir == "" {
		fmt.Fprintln(stderr, "cannot fetch without -dir argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	err = cmd.fetch(context.Background())
	if err != nil {
		return 1
	}
	fmt.Fprintln(stdout, cmd.dir)
	return 0
}

func (cmd *fetcher) fetch(ctx context.Context) error {
	err := os.MkdirAll(filepath.Join(cmd.dir, "counts"), 0777)
	if err != nil {
		return err
	}
	client := &gdcClient{
		BaseURL: cmd.apiURL,
		Client:  &http.Client{Timeout: 20 * time.Minute},
	}

	log.Infof("querying clinical records for %s", cmd.project)
	cases, err := client.Cases(ctx, gdcIn("project.project_id", cmd.project))
	if err != nil {
		return err
	}
	log.Infof("writing clinical.tsv, %d cases", len(cases))
	err = writeClinicalTSV(filepath.Join(cmd.dir, "clinical.tsv"), cases)
	if err != nil {
		return err
	}

	log.Info("querying RNA quantification files")
	files, err := client.Files(ctx, gdcAnd(
		gdcIn("cases.project.project_id", cmd.project),
		gdcIn("data_category", "Transcriptome Profiling"),
		gdcIn("data_type", "Gene Expression Quantification"),
		gdcIn("analysis.workflow_type", "STAR - Counts"),
		gdcIn("access", "open"),
	), []string{"file_id", "file_name", "file_size", "md5sum", "cases.submitter_id"})
	if err != nil {
		return err
	}
	if cmd.maxFiles > 0 && len(files) > cmd.maxFiles {
		files = files[:cmd.maxFiles]
	}
	log.Infof("downloading %d count files", len(files))

	mft, err := readManifest(cmd.dir)
	if err != nil {
		return err
	}
	mft.Project = cmd.project

	var mtx throttle
	mtx.Max = cmd.threads
	done := make([]manifestEntry, len(files))
	for i, f := range files {
		i, f := i, f
		if len(f.Cases) != 1 {
			log.Warnf("skipping %s: file maps to %d cases", f.Name, len(f.Cases))
			continue
		}
		mtx.Go(func() error {
			ent, err := cmd.download(ctx, client, f, mft)
			if err != nil {
				return fmt.Errorf("download %s: %w", f.Name, err)
			}
			done[i] = *ent
			return nil
		})
	}
	err = mtx.Wait()
	if err != nil {
		return err
	}
	mft.Files = nil
	for _, ent := range done {
		if ent.FileID != "" {
			mft.Files = append(mft.Files, ent)
		}
	}
	log.Infof("writing manifest.json, %d files", len(mft.Files))
	return mft.write(cmd.dir)
}

// download fetches one count file to counts/<case>.tsv, verifying by
// size and blake2b against any previous manifest entry so verified
// files are not fetched twice.
func (cmd *fetcher) download(ctx context.Context, client *gdcClient, f gdcFile, old *manifest) (*manifestEntry, error) {
	caseID := f.Cases[0].SubmitterID
	path := filepath.Join(cmd.dir, "counts", caseID+".tsv")
	if prev := old.entry(f.ID); prev != nil {
		if fi, err := os.Stat(path); err == nil && fi.Size() == prev.Size {
			sum, err := blake2bFile(path)
			if err == nil && sum == prev.Blake2b {
				log.Debugf("%s: already verified", caseID)
				return prev, nil
			}
		}
		log.Infof("%s: cached copy missing or stale, re-downloading", caseID)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+caseID+"-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	err = client.Download(ctx, f.ID, io.MultiWriter(tmp, hash))
	if err != nil {
		tmp.Close()
		return nil, err
	}
	fi, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return nil, err
	}
	err = tmp.Close()
	if err != nil {
		return nil, err
	}
	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s: %d bytes", caseID, fi.Size())
	return &manifestEntry{
		FileID:  f.ID,
		Name:    f.Name,
		CaseID:  caseID,
		Size:    fi.Size(),
		Blake2b: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func blake2bFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(hash, f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func writeClinicalTSV(path string, cases []gdcCase) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, "case_submitter_id\tage_years\tfigo_stage\tvital_status\tdays_to_death\tdays_to_last_follow_up\trace\tethnicity")
	if err != nil {
		return err
	}
	for _, c := range cases {
		age, stage, followup := 0, "", 0
		if len(c.Diagnoses) > 0 {
			// Multiple diagnosis records are rare in TCGA-OV;
			// keep the first, consistent with the first-match
			// policy used elsewhere.
			age = c.Diagnoses[0].AgeAtDiagnosisDays / 365
			stage = c.Diagnoses[0].FigoStage
			followup = c.Diagnoses[0].DaysToLastFollowUp
		}
		_, err = fmt.Fprintf(f, "%s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			c.SubmitterID, age, stage,
			c.Demographic.VitalStatus, c.Demographic.DaysToDeath, followup,
			c.Demographic.Race, c.Demographic.Ethnicity)
		if err != nil {
			return err
		}
	}
	return f.Close()
}
