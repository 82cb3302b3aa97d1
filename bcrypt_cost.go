//go:build !race

package entree

func passwordHashCost() int {
	return 12
}
