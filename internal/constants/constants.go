package constants

const USER_AGENT = "chessoverlay/0.1.0 (+https://github.com/Amund211/chessoverlay)"

// Anonymous Twitch chat login. The relay accepts any password for justinfan accounts.
const TWITCH_ANONYMOUS_PASS = "SCHMOOPIIE"
const TWITCH_ANONYMOUS_NICK_PREFIX = "justinfan"
