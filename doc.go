/*
Package mirrorup is a tool for selecting the best Arch Linux pacman
mirrors for the current network location.

pacman-mirrorup fetches the public mirror status document, keeps only
fully synced http/https mirrors, applies user exclusion rules, measures
each remaining candidate's transfer rate under bounded concurrency, and
writes a ranked mirrorlist.

The main packages are:

	github.com/bpetlert/pacman-mirrorup/internal/mirrorup    - Selection pipeline: normalization, filtering, exclusion, probing, ranking
	github.com/bpetlert/pacman-mirrorup/cmd/pacman-mirrorup  - Command-line interface
*/
package mirrorup
