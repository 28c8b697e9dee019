package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// randomCPF returns a formatted CPF with valid check digits.
func randomCPF(r *rand.Rand) string {
	digits := make([]int, 11)
	for {
		for i := 0; i < 9; i++ {
			digits[i] = r.IntN(10)
		}
		if !allEqual(digits[:9]) {
			break
		}
	}
	digits[9] = cpfCheckDigit(digits, 9)
	digits[10] = cpfCheckDigit(digits, 10)

	var b strings.Builder
	for i, d := range digits {
		switch i {
		case 3, 6:
			b.WriteByte('.')
		case 9:
			b.WriteByte('-')
		}
		fmt.Fprintf(&b, "%d", d)
	}
	return b.String()
}

func cpfCheckDigit(digits []int, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += digits[i] * (n + 1 - i)
	}
	if r := (sum * 10) % 11; r != 10 {
		return r
	}
	return 0
}

func allEqual(ds []int) bool {
	for _, d := range ds[1:] {
		if d != ds[0] {
			return false
		}
	}
	return true
}

// randomEAN13 returns a 13 digit barcode with a valid check digit.
func randomEAN13(r *rand.Rand) string {
	var b strings.Builder
	sum := 0
	for i := 0; i < 12; i++ {
		d := r.IntN(10)
		if i%2 == 1 {
			sum += d * 3
		} else {
			sum += d
		}
		fmt.Fprintf(&b, "%d", d)
	}
	fmt.Fprintf(&b, "%d", (10-sum%10)%10)
	return b.String()
}
