package auth

import "golang.org/x/crypto/bcrypt"

const bcryptTestCost = bcrypt.MinCost
