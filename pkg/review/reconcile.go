// Package review owns the human-in-the-loop verification flow: header
// and line edits, receipt deletion, and the sync-finish reconciliation
// that promotes corrected staging rows into the verified table.
package review

import (
	"github.com/paperledger/paperledger/pkg/store"
)

// snapshot is one tenant's full review state loaded for reconciliation.
type snapshot struct {
	Staging []store.StagingInvoice
	Headers []store.VerificationHeader
	Lines   []store.VerificationLine
}

// reconcileResult is what the reconciliation wants persisted.
type reconcileResult struct {
	// Staging rows with corrections applied, to upsert.
	Staging []store.StagingInvoice
	// Verified is the rebuilt target set, deduplicated on row_id.
	Verified []store.VerifiedInvoice
	// PruneHeaders / PruneLines are review row_ids safe to delete.
	PruneHeaders []string
	PruneLines   []string
}

// reconcile runs the in-memory reconciliation over one tenant's state.
// Pure: no I/O, deterministic for a given snapshot.
func reconcile(tenant string, snap snapshot) reconcileResult {
	staging := make([]store.StagingInvoice, len(snap.Staging))
	copy(staging, snap.Staging)

	repairLinks(staging, snap.Headers, snap.Lines)
	applyDateCorrections(staging, snap.Headers)
	applyAmountCorrections(staging, snap.Lines)

	verified := buildVerified(tenant, staging, snap.Headers, snap.Lines)
	pruneHeaders, pruneLines := pruneSets(snap.Headers, snap.Lines)

	return reconcileResult{
		Staging:      staging,
		Verified:     verified,
		PruneHeaders: pruneHeaders,
		PruneLines:   pruneLines,
	}
}

// repairLinks back-fills missing staging blob keys from a
// receipt_number → blob_key map built with review tables taking
// priority over staging itself.
func repairLinks(staging []store.StagingInvoice, headers []store.VerificationHeader, lines []store.VerificationLine) {
	links := make(map[string]string)
	for _, h := range headers {
		if h.BlobKey != "" {
			setIfAbsent(links, h.ReceiptNumber, h.BlobKey)
		}
	}
	for _, l := range lines {
		if l.BlobKey != "" {
			setIfAbsent(links, l.ReceiptNumber, l.BlobKey)
		}
	}
	for _, row := range staging {
		if row.BlobKey != "" {
			setIfAbsent(links, row.ReceiptNumber, row.BlobKey)
		}
	}

	for i := range staging {
		if staging[i].BlobKey == "" {
			staging[i].BlobKey = links[staging[i].ReceiptNumber]
		}
	}
}

// applyDateCorrections overwrites receipt number and date on every
// staging row sharing a Done header's blob key.
func applyDateCorrections(staging []store.StagingInvoice, headers []store.VerificationHeader) {
	for _, h := range headers {
		if h.Status != store.StatusDone || h.BlobKey == "" {
			continue
		}
		for i := range staging {
			if staging[i].BlobKey == h.BlobKey {
				staging[i].ReceiptNumber = h.ReceiptNumber
				staging[i].Date = h.Date
			}
		}
	}
}

// applyAmountCorrections overwrites quantity, rate, amount and
// description from Done amounts-review rows. Match is by row_id first;
// rows whose id drifted fall back to (blob key, description).
func applyAmountCorrections(staging []store.StagingInvoice, lines []store.VerificationLine) {
	byRowID := make(map[string]int, len(staging))
	for i, row := range staging {
		byRowID[row.RowID] = i
	}

	for _, l := range lines {
		if l.Status != store.StatusDone {
			continue
		}
		idx, ok := byRowID[l.RowID]
		if !ok {
			idx = findByDescription(staging, l.BlobKey, l.ItemDescription)
			if idx < 0 {
				continue
			}
		}
		staging[idx].Quantity = l.Quantity
		staging[idx].Rate = l.Rate
		staging[idx].Amount = l.Amount
		staging[idx].ItemDescription = l.ItemDescription
	}
}

func findByDescription(staging []store.StagingInvoice, blobKey, description string) int {
	if blobKey == "" {
		return -1
	}
	for i, row := range staging {
		if row.BlobKey == blobKey && row.ItemDescription == description {
			return i
		}
	}
	return -1
}

// buildVerified constructs the target verified set: unreferenced
// staging rows plus fully-Done reviewed rows, with orphan synthesis for
// Done review rows whose staging row is gone. Dedup on row_id keeps the
// last occurrence.
func buildVerified(tenant string, staging []store.StagingInvoice, headers []store.VerificationHeader, lines []store.VerificationLine) []store.VerifiedInvoice {
	headerByReceipt := make(map[string]store.VerificationHeader, len(headers))
	for _, h := range headers {
		headerByReceipt[h.ReceiptNumber] = h
	}
	lineByRowID := make(map[string]store.VerificationLine, len(lines))
	for _, l := range lines {
		lineByRowID[l.RowID] = l
	}

	excluded := make(map[string]bool)
	for _, h := range headers {
		switch h.Status {
		case store.StatusPending, store.StatusDuplicateReceipt, store.StatusRejected:
			excluded[h.ReceiptNumber] = true
		}
	}
	for _, l := range lines {
		if l.Status == store.StatusPending {
			excluded[l.ReceiptNumber] = true
		}
	}

	stagingRowIDs := make(map[string]bool, len(staging))
	for _, row := range staging {
		stagingRowIDs[row.RowID] = true
	}

	var order []string
	byRowID := make(map[string]store.VerifiedInvoice)
	add := func(v store.VerifiedInvoice) {
		if _, seen := byRowID[v.RowID]; !seen {
			order = append(order, v.RowID)
		}
		byRowID[v.RowID] = v
	}

	for _, row := range staging {
		if excluded[row.ReceiptNumber] {
			continue
		}
		line, hasLine := lineByRowID[row.RowID]
		if hasLine && line.Status != store.StatusDone {
			continue
		}
		header, hasHeader := headerByReceipt[row.ReceiptNumber]
		if hasHeader && header.Status != store.StatusDone {
			continue
		}
		add(store.VerifiedInvoice{
			Tenant:          tenant,
			RowID:           row.RowID,
			ReceiptNumber:   row.ReceiptNumber,
			Date:            row.Date,
			CustomerName:    row.CustomerName,
			VehicleNumber:   row.VehicleNumber,
			ItemDescription: row.ItemDescription,
			Quantity:        row.Quantity,
			Rate:            row.Rate,
			Amount:          row.Amount,
			BlobKey:         row.BlobKey,
			ImageHash:       row.ImageHash,
		})
	}

	// Orphans: a reviewer finished a row whose staging record was
	// deleted. The review row still carries enough to finalize, as long
	// as it kept its image link.
	for _, l := range lines {
		if l.Status != store.StatusDone || stagingRowIDs[l.RowID] || l.BlobKey == "" {
			continue
		}
		if excluded[l.ReceiptNumber] {
			continue
		}
		var date *string
		if h, ok := headerByReceipt[l.ReceiptNumber]; ok {
			date = h.Date
		}
		add(store.VerifiedInvoice{
			Tenant:          tenant,
			RowID:           l.RowID,
			ReceiptNumber:   l.ReceiptNumber,
			Date:            date,
			ItemDescription: l.ItemDescription,
			Quantity:        l.Quantity,
			Rate:            l.Rate,
			Amount:          l.Amount,
			BlobKey:         l.BlobKey,
			ImageHash:       l.ImageHash,
		})
	}

	out := make([]store.VerifiedInvoice, 0, len(order))
	for _, id := range order {
		out = append(out, byRowID[id])
	}
	return out
}

// pruneSets decides which review rows are done with their job. Pending
// and duplicate rows always stay; rejected rows always go; a Done row
// goes only when the same receipt has nothing Pending in the other
// table, so a half-reviewed receipt keeps both sides visible.
func pruneSets(headers []store.VerificationHeader, lines []store.VerificationLine) (pruneHeaders, pruneLines []string) {
	pendingAmountReceipts := make(map[string]bool)
	for _, l := range lines {
		if l.Status == store.StatusPending {
			pendingAmountReceipts[l.ReceiptNumber] = true
		}
	}
	pendingDateReceipts := make(map[string]bool)
	for _, h := range headers {
		if h.Status == store.StatusPending {
			pendingDateReceipts[h.ReceiptNumber] = true
		}
	}

	for _, h := range headers {
		switch {
		case h.Status == store.StatusRejected:
			pruneHeaders = append(pruneHeaders, h.RowID)
		case h.Status == store.StatusDone && !pendingAmountReceipts[h.ReceiptNumber]:
			pruneHeaders = append(pruneHeaders, h.RowID)
		}
	}
	for _, l := range lines {
		switch {
		case l.Status == store.StatusRejected:
			pruneLines = append(pruneLines, l.RowID)
		// Already-verified rows carry nothing the verified table lacks.
		case l.Status == store.StatusAlreadyVerified:
			pruneLines = append(pruneLines, l.RowID)
		case l.Status == store.StatusDone && !pendingDateReceipts[l.ReceiptNumber]:
			pruneLines = append(pruneLines, l.RowID)
		}
	}
	return pruneHeaders, pruneLines
}

func setIfAbsent(m map[string]string, key, value string) {
	if key == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
