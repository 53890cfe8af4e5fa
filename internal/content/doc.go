// Package content picks the title of each broadcast cycle.
//
// Sources are tried in a fixed order (remote catalog, local curated list,
// default sentinel) and every failure simply moves on to the next one, so
// Chain.Select always returns an Item.
package content
