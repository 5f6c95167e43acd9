// Package models defines the wire-format DTOs exchanged between the server and clients: both the realtime gateway
// payloads and the REST response bodies. These types intentionally use string-encoded identifiers (UUIDs formatted
// as their canonical string form) so that every numeric precision concern a client-side JSON parser might have is
// avoided; internally the rest of the codebase works with uuid.UUID.
package models

// HelloData is the payload of the HELLO event sent immediately after a socket is accepted.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// IdentifyData is the payload of the client's IDENTIFY message.
type IdentifyData struct {
	Token string `json:"token"`
}

// PresenceUpdateRequest is the payload of the client's PRESENCE_UPDATE message (a status change request).
type PresenceUpdateRequest struct {
	Status string `json:"status"`
}

// PresenceUpdateData is the payload of the outbound PRESENCE_UPDATE event.
type PresenceUpdateData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// TypingStartData is the payload of the outbound TYPING_START event.
type TypingStartData struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// TypingStopData is the payload of the outbound TYPING_STOP event.
type TypingStopData struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// ReadyData is the payload of the READY event: the full onboarding snapshot for the identifying user.
type ReadyData struct {
	User       User        `json:"user"`
	Guilds     []GuildCreateData `json:"guilds"`
	ReadStates []ReadState `json:"read_states"`
}

// ReadState describes the last-read position of one channel for the identifying user.
type ReadState struct {
	ChannelID         string  `json:"channel_id"`
	LastReadMessageID *string `json:"last_read_message_id,omitempty"`
	LastMessageID     *string `json:"last_message_id,omitempty"`
}

// GuildCreateData is the payload of one GUILD_CREATE event: a guild plus everything needed to render it without
// further round-trips (its channels, roles, and the onboarding user's fellow members).
type GuildCreateData struct {
	Guild    Guild     `json:"guild"`
	Channels []Channel `json:"channels"`
	Roles    []Role    `json:"roles"`
	Members  []Member  `json:"members"`
}

// Guild is a tenant: a namespace owning channels, roles, and members.
type Guild struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	IconKey     *string `json:"icon_key,omitempty"`
	BannerKey   *string `json:"banner_key,omitempty"`
	OwnerID     string  `json:"owner_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// GuildRemoveData is the payload of the GUILD_REMOVE event: the guild the identifying user no longer belongs to.
type GuildRemoveData struct {
	GuildID string `json:"guild_id"`
}

// MemberRemoveData is the payload of the MEMBER_REMOVE event.
type MemberRemoveData struct {
	UserID  string `json:"user_id"`
	GuildID string `json:"guild_id"`
}

// ChannelDeleteData is the payload of the CHANNEL_REMOVE event.
type ChannelDeleteData struct {
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
}

// RoleDeleteData is the payload of the ROLE_REMOVE event.
type RoleDeleteData struct {
	RoleID  string `json:"role_id"`
	GuildID string `json:"guild_id"`
}

// MessageDeleteData is the payload of the MESSAGE_DELETE event.
type MessageDeleteData struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// InvalidSessionData is the payload of the INVALID_SESSION event.
type InvalidSessionData struct {
	Reason string `json:"reason"`
}

// User is the protocol representation of an account.
type User struct {
	ID                   string  `json:"id"`
	Email                string  `json:"email,omitempty"`
	Username             string  `json:"username"`
	DisplayName          *string `json:"display_name,omitempty"`
	AvatarKey            *string `json:"avatar_key,omitempty"`
	Pronouns             *string `json:"pronouns,omitempty"`
	BannerKey            *string `json:"banner_key,omitempty"`
	About                *string `json:"about,omitempty"`
	ThemeColourPrimary   *string `json:"theme_colour_primary,omitempty"`
	ThemeColourSecondary *string `json:"theme_colour_secondary,omitempty"`
	MFAEnabled           bool    `json:"mfa_enabled"`
	EmailVerified        bool    `json:"email_verified"`
}

// UpdateUserRequest is the PATCH body for updating the authenticated user's profile.
type UpdateUserRequest struct {
	DisplayName          *string `json:"display_name,omitempty"`
	Pronouns             *string `json:"pronouns,omitempty"`
	About                *string `json:"about,omitempty"`
	ThemeColourPrimary   *string `json:"theme_colour_primary,omitempty"`
	ThemeColourSecondary *string `json:"theme_colour_secondary,omitempty"`
}

// DeleteAccountRequest is the body for the account-deletion confirmation endpoint.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// Channel is the protocol representation of a guild channel.
type Channel struct {
	ID              string  `json:"id"`
	GuildID         string  `json:"guild_id"`
	CategoryID      *string `json:"category_id,omitempty"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Topic           string  `json:"topic,omitempty"`
	Position        int     `json:"position"`
	SlowmodeSeconds int     `json:"slowmode_seconds"`
	NSFW            bool    `json:"nsfw"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// ChannelTypeText identifies a standard text channel.
const ChannelTypeText = "text"

// CreateChannelRequest is the POST body for creating a channel.
type CreateChannelRequest struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	CategoryID      *string `json:"category_id,omitempty"`
	Topic           string  `json:"topic,omitempty"`
	SlowmodeSeconds int     `json:"slowmode_seconds,omitempty"`
	NSFW            bool    `json:"nsfw,omitempty"`
}

// UpdateChannelRequest is the PATCH body for updating a channel.
type UpdateChannelRequest struct {
	Name            *string `json:"name,omitempty"`
	CategoryID      *string `json:"category_id,omitempty"`
	Topic           *string `json:"topic,omitempty"`
	Position        *int    `json:"position,omitempty"`
	SlowmodeSeconds *int    `json:"slowmode_seconds,omitempty"`
	NSFW            *bool   `json:"nsfw,omitempty"`
}

// Category groups channels within a guild's sidebar.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateCategoryRequest is the POST body for creating a category.
type CreateCategoryRequest struct {
	Name string `json:"name"`
}

// UpdateCategoryRequest is the PATCH body for updating a category.
type UpdateCategoryRequest struct {
	Name     *string `json:"name,omitempty"`
	Position *int    `json:"position,omitempty"`
}

// MemberUser is the subset of a user's profile embedded in member-shaped payloads.
type MemberUser struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarKey   *string `json:"avatar_key,omitempty"`
}

// Member is the protocol representation of a guild membership.
type Member struct {
	User         MemberUser `json:"user"`
	Nickname     *string    `json:"nickname,omitempty"`
	JoinedAt     string     `json:"joined_at"`
	Roles        []string   `json:"roles"`
	Status       string     `json:"status"`
	TimeoutUntil *string    `json:"timeout_until,omitempty"`
}

const (
	MemberStatusActive  = "active"
	MemberStatusPending = "pending"
	MemberStatusTimedOut = "timed_out"
)

// UpdateMemberRequest is the PATCH body for updating a member (nickname, roles).
type UpdateMemberRequest struct {
	Nickname *string  `json:"nickname,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// BanMemberRequest is the POST body for banning a member.
type BanMemberRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TimeoutMemberRequest is the POST body for timing out a member.
type TimeoutMemberRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// Ban is the protocol representation of a guild ban.
type Ban struct {
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Role is the protocol representation of a guild role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Colour      int    `json:"colour"`
	Position    int    `json:"position"`
	Hoist       bool   `json:"hoist"`
	Permissions int64  `json:"permissions"`
	IsEveryone  bool   `json:"is_everyone"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CreateRoleRequest is the POST body for creating a role.
type CreateRoleRequest struct {
	Name        string `json:"name"`
	Colour      int    `json:"colour,omitempty"`
	Hoist       bool   `json:"hoist,omitempty"`
	Permissions int64  `json:"permissions,omitempty"`
}

// UpdateRoleRequest is the PATCH body for updating a role.
type UpdateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Colour      *int    `json:"colour,omitempty"`
	Position    *int    `json:"position,omitempty"`
	Hoist       *bool   `json:"hoist,omitempty"`
	Permissions *int64  `json:"permissions,omitempty"`
}

// Message is the protocol representation of a channel message.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Author      MemberUser   `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   *string      `json:"reply_to_id,omitempty"`
	Pinned      bool         `json:"pinned"`
	EditedAt    *string      `json:"edited_at,omitempty"`
	CreatedAt   string       `json:"created_at"`
}

// MessageResponse wraps a single message plus pagination-adjacent metadata consumed by list endpoints.
type MessageResponse struct {
	Messages []Message `json:"messages"`
}

// CreateMessageRequest is the POST body for creating a message.
type CreateMessageRequest struct {
	Content       string   `json:"content"`
	ReplyToID     *string  `json:"reply_to_id,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// UpdateMessageRequest is the PATCH body for editing a message.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

// Attachment is the protocol representation of an uploaded file.
type Attachment struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	Size         int64   `json:"size"`
	ContentType  string  `json:"content_type"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
}

// Invite is the protocol representation of a guild invite.
type Invite struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	ChannelID     string  `json:"channel_id"`
	CreatorID     string  `json:"creator_id"`
	MaxUses       int     `json:"max_uses,omitempty"`
	UseCount      int     `json:"use_count"`
	MaxAgeSeconds int     `json:"max_age_seconds,omitempty"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// CreateInviteRequest is the POST body for creating an invite.
type CreateInviteRequest struct {
	ChannelID     string `json:"channel_id"`
	MaxUses       int    `json:"max_uses,omitempty"`
	MaxAgeSeconds int    `json:"max_age_seconds,omitempty"`
}

// AcceptOnboardingRequest is the POST body for accepting the onboarding documents.
type AcceptOnboardingRequest struct {
	AcceptedSlugs []string `json:"accepted_slugs"`
}

// OnboardingConfig describes a guild's join requirements.
type OnboardingConfig struct {
	WelcomeChannelID         *string  `json:"welcome_channel_id,omitempty"`
	RequireEmailVerification bool     `json:"require_email_verification"`
	OpenJoin                 bool     `json:"open_join"`
	MinAccountAgeSeconds     int      `json:"min_account_age_seconds,omitempty"`
	AutoRoles                []string `json:"auto_roles,omitempty"`
}

// UpdateOnboardingConfigRequest is the PATCH body for the onboarding config.
type UpdateOnboardingConfigRequest struct {
	WelcomeChannelID         *string  `json:"welcome_channel_id,omitempty"`
	RequireEmailVerification *bool    `json:"require_email_verification,omitempty"`
	OpenJoin                 *bool    `json:"open_join,omitempty"`
	MinAccountAgeSeconds     *int     `json:"min_account_age_seconds,omitempty"`
	AutoRoles                []string `json:"auto_roles,omitempty"`
}

// OnboardingDocument is one entry in the onboarding document set (rules, ToS, etc).
type OnboardingDocument struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Position int    `json:"position"`
	Required bool   `json:"required"`
}

// OnboardingStatusResponse describes what a pending member still needs to complete.
type OnboardingStatusResponse struct {
	Steps     []string             `json:"steps"`
	Documents []OnboardingDocument `json:"documents,omitempty"`
}

const (
	OnboardingStepVerifyEmail     = "verify_email"
	OnboardingStepAcceptDocuments = "accept_documents"
	OnboardingStepJoinServer      = "join_server"
	OnboardingStepComplete        = "complete"
)

// PresenceState is a single user's advertised presence, as embedded in READY.
type PresenceState struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ServerConfig is the deployment-wide branding/configuration, independent of any one guild.
type ServerConfig struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	IconKey     *string `json:"icon_key,omitempty"`
	BannerKey   *string `json:"banner_key,omitempty"`
	OwnerID     string  `json:"owner_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// PublicServerInfo is the unauthenticated subset of ServerConfig.
type PublicServerInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	IconKey     *string `json:"icon_key,omitempty"`
}

// UpdateServerConfigRequest is the PATCH body for updating deployment branding.
type UpdateServerConfigRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IconKey     *string `json:"icon_key,omitempty"`
	BannerKey   *string `json:"banner_key,omitempty"`
}

// ResolvedPermissions is the response of the effective-permissions lookup endpoint.
type ResolvedPermissions struct {
	Permissions int64 `json:"permissions"`
}

// PermissionOverride is a channel- or category-scoped allow/deny override for a role or member.
type PermissionOverride struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	TargetID  string `json:"target_id"`
	Allow     int64  `json:"allow"`
	Deny      int64  `json:"deny"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SetOverrideRequest is the PUT body for setting a permission override.
type SetOverrideRequest struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Allow    int64  `json:"allow"`
	Deny     int64  `json:"deny"`
}

// SearchMessageHit is one result in a message search response.
type SearchMessageHit struct {
	Message   Message `json:"message"`
	Highlight string  `json:"highlight,omitempty"`
}

// SearchResponse wraps message search results.
type SearchResponse struct {
	Hits []SearchMessageHit `json:"hits"`
}

// MFASetupResponse carries the TOTP secret and QR content for enabling MFA.
type MFASetupResponse struct {
	Secret string `json:"secret"`
	OTPURL string `json:"otp_url"`
}

// MFAEnableRequest is the body confirming TOTP setup.
type MFAEnableRequest struct {
	Code string `json:"code"`
}

// MFAConfirmRequest confirms a pending MFA challenge during login.
type MFAConfirmRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

// MFAConfirmResponse is returned once a pending MFA challenge has been satisfied.
type MFAConfirmResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// MFADisableRequest is the body for disabling MFA.
type MFADisableRequest struct {
	Code string `json:"code"`
}

// MFARegenerateCodesRequest requests fresh recovery codes.
type MFARegenerateCodesRequest struct {
	Code string `json:"code"`
}

// MFARegenerateCodesResponse carries the newly generated recovery codes.
type MFARegenerateCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}
