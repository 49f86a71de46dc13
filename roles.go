package main

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"slices"
)

// mafiaCount is a third of the table rounded down, never less than one.
func mafiaCount(players int) int {
	return max(1, players*33/100)
}

// assignRoles deals roles for a table of at least four players from a single
// shuffle: the mafia share, one doctor, one detective above four players,
// citizens for the rest.
func assignRoles(ids []PlayerID) map[PlayerID]Role {
	pool := slices.Clone(ids)
	shufflePlayers(pool)

	roles := make(map[PlayerID]Role, len(pool))
	i := 0
	deal := func(role Role, count int) {
		for ; count > 0 && i < len(pool); count-- {
			roles[pool[i]] = role
			i++
		}
	}

	deal(RoleMafia, mafiaCount(len(pool)))
	deal(RoleDoctor, 1)
	if len(pool) > 4 {
		deal(RoleDetective, 1)
	}
	deal(RoleCitizen, len(pool)-i)
	return roles
}

// shufflePlayers shuffles in place using crypto/rand
func shufflePlayers(ids []PlayerID) {
	for i := len(ids) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// randIntn returns a uniform int in [0, n).
func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// fallback to math/rand if crypto fails
		return mrand.IntN(n)
	}
	return int(v.Int64())
}
