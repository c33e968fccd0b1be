package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"newsletter-backend/middlewares"
	"newsletter-backend/models"
)

type AuthController struct {
	db   *gorm.DB
	auth *middlewares.Auth
}

func NewAuthController(db *gorm.DB, auth *middlewares.Auth) *AuthController {
	return &AuthController{db: db, auth: auth}
}

type loginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required" normalize:"-"`
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var data loginRequest
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	var user models.User
	err := ac.db.WithContext(c.UserContext()).Where("username = ?", data.Username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}
	if err := user.ComparePassword(data.Password); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := ac.auth.GenerateJWT(user.Id, user.Username)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":       user.Id,
			"username": user.Username,
		},
	})
}

// Logout is a no-op for bearer tokens; clients drop the token.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "success",
	})
}

func (ac *AuthController) Dashboard(c *fiber.Ctx) error {
	user, err := ac.currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id":       user.Id,
		"username": user.Username,
	})
}

type changePasswordRequest struct {
	CurrentPassword  string `json:"current_password" form:"current_password" validate:"required" normalize:"-"`
	NewPassword      string `json:"new_password" form:"new_password" validate:"min=12,max=128" normalize:"-"`
	NewPasswordCheck string `json:"new_password_check" form:"new_password_check" validate:"eqfield=NewPassword" normalize:"-"`
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	var data changePasswordRequest
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	user, err := ac.currentUser(c)
	if err != nil {
		return err
	}
	if err := user.ComparePassword(data.CurrentPassword); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "the current password is incorrect")
	}

	if err := user.SetPassword(data.NewPassword); err != nil {
		return err
	}
	if err := ac.db.WithContext(c.UserContext()).Model(user).Update("password", user.Password).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "your password has been changed",
	})
}

func (ac *AuthController) currentUser(c *fiber.Ctx) (*models.User, error) {
	var user models.User
	err := ac.db.WithContext(c.UserContext()).Where("id = ?", middlewares.UserID(c)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unknown operator")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
