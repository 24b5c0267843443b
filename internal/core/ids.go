package core

import (
	"errors"
	"strconv"
	"strings"
)

type (
	RestaurantID int64
	CategoryID   int64
	MenuItemID   int64
)

var ErrInvalidID = errors.New("invalid identifier")

func ParseRestaurantID(s string) (RestaurantID, error) {
	id, err := parseID(s)
	return RestaurantID(id), err
}

func ParseCategoryID(s string) (CategoryID, error) {
	id, err := parseID(s)
	return CategoryID(id), err
}

func ParseMenuItemID(s string) (MenuItemID, error) {
	id, err := parseID(s)
	return MenuItemID(id), err
}

// parseID accepts only positive base-10 integers.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func (id RestaurantID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id CategoryID) String() string   { return strconv.FormatInt(int64(id), 10) }
func (id MenuItemID) String() string   { return strconv.FormatInt(int64(id), 10) }
