// Package apierrors defines the stable error codes returned in API error bodies. Codes are part of the wire contract:
// clients match on Code, not on Message, so renaming a constant's string value is a breaking change.
package apierrors

// Code identifies a specific API failure mode independent of HTTP status.
type Code string

const (
	ValidationError     Code = "validation_error"
	InvalidBody         Code = "invalid_body"
	InvalidChannelID    Code = "invalid_channel_id"
	InvalidCredentials  Code = "invalid_credentials"
	InvalidEmail        Code = "invalid_email"
	InvalidPassword     Code = "invalid_password"
	InvalidToken        Code = "invalid_token"
	InvalidUsername     Code = "invalid_username"
	TokenExpired        Code = "token_expired"
	EmailNotVerified    Code = "email_not_verified"
	MFANotEnabled       Code = "mfa_not_enabled"
	AlreadyExists       Code = "already_exists"
	AlreadyMember       Code = "already_member"
	Banned              Code = "banned"
	Unauthorised        Code = "unauthorised"
	Unauthorized        Code = "unauthorised"
	MissingPermissions  Code = "missing_permissions"
	MembershipRequired  Code = "membership_required"
	OpenJoinDisabled    Code = "open_join_disabled"
	OwnerOnly           Code = "owner_only"
	ServerOwner         Code = "server_owner"
	RoleHierarchy       Code = "role_hierarchy"
	NotFound            Code = "not_found"
	UnknownAttachment   Code = "unknown_attachment"
	UnknownBan          Code = "unknown_ban"
	UnknownCategory     Code = "unknown_category"
	UnknownChannel      Code = "unknown_channel"
	UnknownGuild        Code = "unknown_guild"
	UnknownInvite       Code = "unknown_invite"
	UnknownMember       Code = "unknown_member"
	UnknownMessage      Code = "unknown_message"
	UnknownOverride     Code = "unknown_override"
	UnknownRole         Code = "unknown_role"
	UnknownUser         Code = "unknown_user"
	MaxCategoriesReached Code = "max_categories_reached"
	MaxChannelsReached   Code = "max_channels_reached"
	MaxRolesReached      Code = "max_roles_reached"
	MaxGuildsReached     Code = "max_guilds_reached"
	PayloadTooLarge      Code = "payload_too_large"
	UnsupportedContentType Code = "unsupported_content_type"
	RateLimited          Code = "rate_limited"
	SearchUnavailable    Code = "search_unavailable"
	ServiceUnavailable   Code = "service_unavailable"
	InternalError        Code = "internal_error"
)
