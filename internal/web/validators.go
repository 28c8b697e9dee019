package web

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	cpfPattern   = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\- ]{8,20}$`)

	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators installs the cpf, barcode and phone tags on gin's validator. Safe to call
// more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		for tag, fn := range map[string]validator.Func{
			"cpf":     validateCPF,
			"barcode": validateBarcode,
			"phone":   validatePhone,
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

func validateCPF(fl validator.FieldLevel) bool {
	return ValidCPF(fl.Field().String())
}

func validateBarcode(fl validator.FieldLevel) bool {
	return ValidEAN13(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// ValidCPF checks the 000.000.000-00 layout and both check digits.
func ValidCPF(s string) bool {
	if !cpfPattern.MatchString(s) {
		return false
	}
	digits := make([]int, 0, 11)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}

	allSame := true
	for _, d := range digits[1:] {
		if d != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	check := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += digits[i] * (n + 1 - i)
		}
		r := (sum * 10) % 11
		if r == 10 {
			return 0
		}
		return r
	}
	return check(9) == digits[9] && check(10) == digits[10]
}

// ValidEAN13 checks a 13 digit barcode and its check digit.
func ValidEAN13(s string) bool {
	if len(s) != 13 {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	last := s[12]
	if last < '0' || last > '9' {
		return false
	}
	return (10-sum%10)%10 == int(last-'0')
}
