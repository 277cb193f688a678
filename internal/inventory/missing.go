package inventory

import "github.com/italolelis/mega_downloader/internal/remote"

type MissingOptions struct {
	// RedownloadSizeMismatch also selects entries present locally with a different size.
	RedownloadSizeMismatch bool
}

// Missing returns the entries that still have to be downloaded, in listing order.
func Missing(entries []*remote.Entry, inv *Inventory, opts MissingOptions) []*remote.Entry {
	missing := make([]*remote.Entry, 0, len(entries))

	for _, e := range entries {
		size, ok := inv.Size(e.Path)
		if !ok {
			missing = append(missing, e)

			continue
		}

		if opts.RedownloadSizeMismatch && size != e.Size {
			missing = append(missing, e)
		}
	}

	return missing
}
