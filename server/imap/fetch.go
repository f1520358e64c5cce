package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"golang.org/x/sync/errgroup"

	"github.com/driftmail/keel/cache"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/helpers"
	"github.com/driftmail/keel/metrics"
)

// How many message bodies are pulled from storage concurrently while
// serving a single FETCH.
const fetchBodyConcurrency = 4

func (s *IMAPSession) Fetch(w *imapserver.FetchWriter, numSet imap.NumSet, options *imap.FetchOptions) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	view, err := s.requireSelected()
	if err != nil {
		return err
	}

	uids := view.resolveNumSet(numSet)
	if len(uids) == 0 {
		return nil
	}

	messages, err := s.server.db.GetMessagesByUIDs(s.ctx, view.ID, uids, options.ChangedSince)
	if err != nil {
		return s.internalError("[FETCH] failed to retrieve messages: %v", err)
	}
	if len(messages) == 0 {
		return nil
	}

	// Load every needed body before the first response line goes out:
	// a storage failure mid-response would corrupt the stream.
	var bodies map[string][]byte
	if needsBody(options) {
		bodies, err = s.loadBodies(messages)
		if err != nil {
			return s.internalError("[FETCH] failed to load message bodies: %v", err)
		}
	}

	// A body fetch without PEEK implies \Seen, unless the mailbox was
	// selected EXAMINE. The store happens before any response line is
	// written, so the rendered FLAGS and MODSEQ already include it.
	if fetchSetsSeen(options) && !view.readOnly {
		var markSeen []imap.UID
		for i := range messages {
			if !hasFlag(messages[i].Flags, imap.FlagSeen) {
				markSeen = append(markSeen, messages[i].UID)
			}
		}
		if len(markSeen) > 0 {
			updates, err := s.server.db.MarkMessagesSeen(s.ctx, view.ID, markSeen, s.Id)
			if err != nil {
				return s.internalError("[FETCH] failed to set \\Seen: %v", err)
			}
			applyFlagUpdates(messages, updates)
		}
	}

	for i := range messages {
		msg := &messages[i]
		if err := s.fetchMessage(w, view, msg, bodies[msg.ContentHash], options); err != nil {
			return err
		}
	}
	return nil
}

// applyFlagUpdates folds freshly written flag rows into the loaded
// messages so the responses reflect the state after this FETCH.
func applyFlagUpdates(messages []db.Message, updates []db.FlagUpdate) {
	byUID := make(map[imap.UID]db.FlagUpdate, len(updates))
	for _, update := range updates {
		byUID[update.UID] = update
	}
	for i := range messages {
		if update, ok := byUID[messages[i].UID]; ok {
			messages[i].Flags = update.Flags
			messages[i].ModSeq = update.ModSeq
		}
	}
}

// loadBodies fetches the distinct blobs referenced by the messages,
// trying the local cache, then the uploader's staging area, then S3.
func (s *IMAPSession) loadBodies(messages []db.Message) (map[string][]byte, error) {
	hashes := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for i := range messages {
		hash := messages[i].ContentHash
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		hashes = append(hashes, hash)
	}

	bodies := make(map[string][]byte, len(hashes))
	group, groupCtx := errgroup.WithContext(s.ctx)
	group.SetLimit(fetchBodyConcurrency)
	results := make([][]byte, len(hashes))
	for i, hash := range hashes {
		group.Go(func() error {
			data, err := s.loadBody(groupCtx, hash)
			if err != nil {
				return fmt.Errorf("blob %s: %w", hash, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	for i, hash := range hashes {
		bodies[hash] = results[i]
	}
	return bodies, nil
}

func (s *IMAPSession) loadBody(ctx context.Context, contentHash string) ([]byte, error) {
	if data, err := s.server.cache.Get(contentHash); err == nil {
		metrics.BlobFetchesTotal.WithLabelValues("cache").Inc()
		return data, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.Log("[FETCH] cache read failed for %s: %v", contentHash, err)
	}

	// Not yet uploaded blobs still live in the uploader's staging dir.
	if data, err := s.server.uploader.GetLocalFile(contentHash); err != nil {
		return nil, err
	} else if data != nil {
		metrics.BlobFetchesTotal.WithLabelValues("staging").Inc()
		return data, nil
	}

	reader, err := s.server.s3.Get(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	metrics.BlobFetchesTotal.WithLabelValues("s3").Inc()
	if err := s.server.cache.Put(contentHash, data); err != nil {
		s.Log("[FETCH] failed to cache %s: %v", contentHash, err)
	}
	return data, nil
}

func (s *IMAPSession) fetchMessage(w *imapserver.FetchWriter, view *mailboxView, msg *db.Message, body []byte, options *imap.FetchOptions) error {
	seq := view.seqNum(msg.UID)
	if seq == 0 {
		return nil
	}
	m := w.CreateMessage(seq)

	if options.Flags {
		m.WriteFlags(msg.Flags)
	}
	if options.UID {
		m.WriteUID(msg.UID)
	}
	if options.InternalDate {
		m.WriteInternalDate(msg.InternalDate)
	}
	if options.RFC822Size {
		m.WriteRFC822Size(msg.Size)
	}
	if options.ModSeq || options.ChangedSince > 0 {
		m.WriteModSeq(msg.ModSeq)
	}

	if options.Envelope {
		envelope, err := s.server.db.GetMessageEnvelope(s.ctx, msg.ID)
		if err != nil {
			return s.internalError("[FETCH] failed to retrieve envelope for UID %d: %v", msg.UID, err)
		}
		m.WriteEnvelope(envelope)
	}

	if options.BodyStructure != nil {
		bodyStructure, err := helpers.DeserializeBodyStructureGob(msg.BodyStructureBlob)
		if err != nil {
			return s.internalError("[FETCH] failed to decode body structure for UID %d: %v", msg.UID, err)
		}
		m.WriteBodyStructure(*bodyStructure)
	}

	for _, section := range options.BodySection {
		buf := imapserver.ExtractBodySection(bytes.NewReader(body), section)
		wc := m.WriteBodySection(section, int64(len(buf)))
		_, writeErr := wc.Write(buf)
		closeErr := wc.Close()
		if writeErr != nil {
			return writeErr
		}
		if closeErr != nil {
			return closeErr
		}
	}

	for _, section := range options.BinarySection {
		buf := imapserver.ExtractBinarySection(bytes.NewReader(body), section)
		wc := m.WriteBinarySection(section, int64(len(buf)))
		_, writeErr := wc.Write(buf)
		closeErr := wc.Close()
		if writeErr != nil {
			return writeErr
		}
		if closeErr != nil {
			return closeErr
		}
	}

	for _, section := range options.BinarySectionSize {
		n := imapserver.ExtractBinarySectionSize(bytes.NewReader(body), section)
		m.WriteBinarySectionSize(section, n)
	}

	if err := m.Close(); err != nil {
		return fmt.Errorf("failed to end message for UID %d: %w", msg.UID, err)
	}
	return nil
}

func needsBody(options *imap.FetchOptions) bool {
	return len(options.BodySection) > 0 || len(options.BinarySection) > 0 || len(options.BinarySectionSize) > 0
}

// fetchSetsSeen reports whether this FETCH implicitly sets \Seen: any
// body or binary section requested without the PEEK modifier.
func fetchSetsSeen(options *imap.FetchOptions) bool {
	for _, section := range options.BodySection {
		if !section.Peek {
			return true
		}
	}
	for _, section := range options.BinarySection {
		if !section.Peek {
			return true
		}
	}
	return false
}

// hasFlag compares case-insensitively; IMAP flags are.
func hasFlag(flags []imap.Flag, want imap.Flag) bool {
	for _, flag := range flags {
		if strings.EqualFold(string(flag), string(want)) {
			return true
		}
	}
	return false
}
