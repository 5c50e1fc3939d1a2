// Package nom contains the Network Object Model used by the migration
// controller: the identities of switches, their ports, and the middleboxes
// attached to those ports.
//
// NOM objects are plain comparable values and can be used as map keys.
package nom
